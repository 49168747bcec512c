package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/news-crawler/newscrawl/internal/analyzer"
	"github.com/news-crawler/newscrawl/internal/cache"
	"github.com/news-crawler/newscrawl/internal/compression"
	"github.com/news-crawler/newscrawl/internal/gazetteer"
	"github.com/news-crawler/newscrawl/internal/storage"
)

// CompressParams selects the target preset for re-compression.
type CompressParams struct {
	Preset string `json:"preset"`
}

// CompressTask re-compresses stored content to a target preset,
// resuming from the persisted cursor.
type CompressTask struct {
	db    *storage.Database
	codec *compression.Codec
	params CompressParams
}

func (t *CompressTask) Kind() string { return "compress" }

func (t *CompressTask) Execute(tc *Context) error {
	preset, err := t.codec.PresetByName(t.params.Preset)
	if err != nil {
		return err
	}

	ids, err := t.db.ContentIDsByPreset(preset.ID)
	if err != nil {
		return err
	}

	done := 0
	for _, id := range ids {
		select {
		case <-tc.Ctx.Done():
			return tc.Ctx.Err()
		default:
		}
		// Cursor skip: rows at or below the resume point are done
		if id <= tc.Resume.Cursor {
			done++
			continue
		}

		data, _, err := t.db.GetContent(id)
		if err != nil {
			return err
		}
		compressed, err := t.codec.Compress(data, preset)
		if err != nil {
			return err
		}
		storageType := storage.StorageInline
		switch {
		case len(compressed) >= 1024*1024:
			storageType = storage.StorageFile
		case len(compressed) >= 4*1024:
			storageType = storage.StorageBucket
		}
		if storageType == storage.StorageFile {
			// A row whose new payload would need a spilled file is
			// left as it is; only inline and bucket results are
			// rewritten in place
			done++
			continue
		}
		if err := t.db.ReplaceContent(id, storageType, preset.ID, compressed, int64(len(data))); err != nil {
			return err
		}

		done++
		tc.EmitProgress(Progress{Current: done, Total: len(ids), Cursor: id})
	}
	tc.EmitProgress(Progress{Current: len(ids), Total: len(ids), Cursor: lastID(ids)})
	return nil
}

// AnalyseTask classifies stored content that has no analysis yet.
type AnalyseTask struct {
	db     *storage.Database
	gaz    *gazetteer.Index
	topics *analyzer.TopicIndex
}

func (t *AnalyseTask) Kind() string { return "analyse" }

func (t *AnalyseTask) Execute(tc *Context) error {
	ids, err := t.db.UnanalyzedContentIDs(tc.Resume.Cursor)
	if err != nil {
		return err
	}

	for i, id := range ids {
		select {
		case <-tc.Ctx.Done():
			return tc.Ctx.Err()
		default:
		}

		data, _, err := t.db.GetContent(id)
		if err != nil {
			return err
		}
		rawURL, err := t.db.URLForContent(id)
		if err != nil {
			return err
		}
		if rawURL == "" {
			continue
		}

		res, err := analyzer.Analyze(analyzer.Input{
			URL:       rawURL,
			Body:      data,
			Gazetteer: t.gaz,
			Topics:    t.topics,
		})
		if err != nil {
			continue
		}
		if err := t.db.PutContentAnalysis(&storage.Analysis{
			ContentID:        id,
			Classification:   string(res.Classification),
			Title:            res.Title,
			PublishedDate:    res.Date,
			WordCount:        res.WordCount,
			Language:         res.Language,
			NavLinkCount:     res.NavLinkCount,
			ArticleLinkCount: res.ArticleLinkCount,
			PlaceIDs:         res.PlaceIDs,
			TopicIDs:         res.TopicIDs,
			Signals:          res.Signals,
		}); err != nil {
			return err
		}

		tc.EmitProgress(Progress{Current: i + 1, Total: len(ids), Cursor: id})
	}
	return nil
}

// ExportParams selects the export destination.
type ExportParams struct {
	Path string `json:"path"`
}

// ExportTask writes crawl results into an xlsx workbook.
type ExportTask struct {
	db     *storage.Database
	params ExportParams
}

func (t *ExportTask) Kind() string { return "export" }

func (t *ExportTask) Execute(tc *Context) error {
	if t.params.Path == "" {
		return fmt.Errorf("export path is required")
	}

	rows, err := t.db.ExportRows()
	if err != nil {
		return err
	}
	defer rows.Close()

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Crawl Results"
	f.SetSheetName("Sheet1", sheet)
	headers := []string{"URL", "Status", "Fetched At", "Classification", "Title", "Word Count", "Language"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	rowIdx := 2
	for rows.Next() {
		select {
		case <-tc.Ctx.Done():
			return tc.Ctx.Err()
		default:
		}

		var url, fetchedAt, classification, title, language string
		var status, wordCount int
		if err := rows.Scan(&url, &status, &fetchedAt, &classification, &title, &wordCount, &language); err != nil {
			return err
		}
		values := []any{url, status, fetchedAt, classification, title, wordCount, language}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, rowIdx)
			f.SetCellValue(sheet, cell, v)
		}
		rowIdx++
		if rowIdx%500 == 0 {
			tc.EmitProgress(Progress{Current: rowIdx - 1, Details: "rows exported"})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := f.SaveAs(t.params.Path); err != nil {
		return fmt.Errorf("export save: %w", err)
	}
	tc.EmitProgress(Progress{Current: rowIdx - 2, Total: rowIdx - 2, Details: t.params.Path})
	return nil
}

// VacuumTask prunes expired cache entries and reclaims database
// pages.
type VacuumTask struct {
	db    *storage.Database
	cache *cache.Cache
}

func (t *VacuumTask) Kind() string { return "vacuum" }

func (t *VacuumTask) Execute(tc *Context) error {
	pruned, err := t.cache.PruneExpired()
	if err != nil {
		return err
	}
	tc.EmitProgress(Progress{Current: 1, Total: 2, Details: fmt.Sprintf("%d cache entries pruned", pruned)})

	if err := t.db.Vacuum(); err != nil {
		return err
	}
	tc.EmitProgress(Progress{Current: 2, Total: 2})
	return nil
}

// RegisterBuiltins registers the standard task kinds on a manager.
func RegisterBuiltins(m *Manager, db *storage.Database, codec *compression.Codec,
	httpCache *cache.Cache, gaz *gazetteer.Index, topics *analyzer.TopicIndex, log *zap.Logger) {

	m.Register("compress", func(params json.RawMessage) (Task, error) {
		t := &CompressTask{db: db, codec: codec}
		if err := json.Unmarshal(params, &t.params); err != nil {
			return nil, err
		}
		if t.params.Preset == "" {
			t.params.Preset = "zstd-3"
		}
		return t, nil
	})

	m.Register("analyse", func(params json.RawMessage) (Task, error) {
		return &AnalyseTask{db: db, gaz: gaz, topics: topics}, nil
	})

	m.Register("export", func(params json.RawMessage) (Task, error) {
		t := &ExportTask{db: db}
		if err := json.Unmarshal(params, &t.params); err != nil {
			return nil, err
		}
		return t, nil
	})

	m.Register("vacuum", func(params json.RawMessage) (Task, error) {
		return &VacuumTask{db: db, cache: httpCache}, nil
	})
}

func lastID(ids []int64) int64 {
	if len(ids) == 0 {
		return 0
	}
	return ids[len(ids)-1]
}
