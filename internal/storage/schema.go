package storage

// Schema contains SQL statements to create database tables.
const Schema = `
-- URLs table: canonical URL identity for the whole system
CREATE TABLE IF NOT EXISTS urls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    canonical TEXT NOT NULL UNIQUE,
    host TEXT NOT NULL,
    first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_urls_canonical ON urls(canonical);
CREATE INDEX IF NOT EXISTS idx_urls_host ON urls(host);

-- HTTP responses: one row per fetch; latest row per URL drives freshness
CREATE TABLE IF NOT EXISTS http_responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url_id INTEGER NOT NULL REFERENCES urls(id),
    status_code INTEGER,
    fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    headers_json TEXT,
    content_ref INTEGER REFERENCES content(id),
    response_time_ms INTEGER,
    ttfb_ms INTEGER,
    outcome TEXT
);

CREATE INDEX IF NOT EXISTS idx_responses_url_id ON http_responses(url_id);
CREATE INDEX IF NOT EXISTS idx_responses_fetched_at ON http_responses(fetched_at);

-- Content storage: inline blob, bucket row, or spilled file
CREATE TABLE IF NOT EXISTS content (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    storage_type TEXT NOT NULL CHECK (storage_type IN ('inline','bucket','file')),
    compression_preset_id INTEGER NOT NULL,
    sha256 TEXT NOT NULL,
    uncompressed_size INTEGER NOT NULL,
    compressed_size INTEGER NOT NULL,
    blob BLOB,
    file_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_content_sha256 ON content(sha256);

CREATE TABLE IF NOT EXISTS content_buckets (
    content_id INTEGER PRIMARY KEY REFERENCES content(id) ON DELETE CASCADE,
    data BLOB NOT NULL
);

-- Content analysis: classifier output per content row
CREATE TABLE IF NOT EXISTS content_analysis (
    content_id INTEGER PRIMARY KEY REFERENCES content(id) ON DELETE CASCADE,
    classification TEXT NOT NULL,
    title TEXT,
    published_date TEXT,
    word_count INTEGER DEFAULT 0,
    language TEXT,
    nav_link_count INTEGER DEFAULT 0,
    article_link_count INTEGER DEFAULT 0,
    place_ids_json TEXT,
    topic_ids_json TEXT,
    signals_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_classification ON content_analysis(classification);

-- Links: directed edges between URLs
CREATE TABLE IF NOT EXISTS links (
    src_url_id INTEGER NOT NULL REFERENCES urls(id),
    dst_url_id INTEGER NOT NULL REFERENCES urls(id),
    anchor_text TEXT,
    rel TEXT,
    depth_delta INTEGER DEFAULT 1,
    discovered_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (src_url_id, dst_url_id)
);

CREATE INDEX IF NOT EXISTS idx_links_dst ON links(dst_url_id);

-- Crawl jobs
CREATE TABLE IF NOT EXISTS crawl_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url_id INTEGER NOT NULL REFERENCES urls(id),
    status TEXT NOT NULL DEFAULT 'preparing',
    plan_id INTEGER REFERENCES plans(id),
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    ended_at DATETIME,
    args_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON crawl_jobs(status);

-- Queue events: append-only log; source of truth for job resumption
CREATE TABLE IF NOT EXISTS queue_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id INTEGER NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
    action TEXT NOT NULL CHECK (action IN ('discovered','enqueued','visited','saved','skipped','failed')),
    url_id INTEGER NOT NULL REFERENCES urls(id),
    depth INTEGER DEFAULT 0,
    ts DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_queue_events_job ON queue_events(job_id, url_id);

-- Milestones
CREATE TABLE IF NOT EXISTS milestones (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id INTEGER REFERENCES crawl_jobs(id),
    kind TEXT NOT NULL,
    ts DATETIME DEFAULT CURRENT_TIMESTAMP,
    details_json TEXT
);

-- Problems surfaced through telemetry
CREATE TABLE IF NOT EXISTS problems (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id INTEGER REFERENCES crawl_jobs(id),
    severity TEXT NOT NULL,
    code TEXT NOT NULL,
    message TEXT,
    url_id INTEGER REFERENCES urls(id),
    ts DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Gazetteer places
CREATE TABLE IF NOT EXISTS places (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL CHECK (kind IN ('country','region','city','other')),
    canonical_name_id INTEGER,
    country_code TEXT,
    lat REAL,
    lng REAL,
    population INTEGER,
    extra_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_places_kind ON places(kind);
CREATE INDEX IF NOT EXISTS idx_places_country ON places(country_code);

CREATE TABLE IF NOT EXISTS place_names (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    place_id INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    lang TEXT DEFAULT '',
    kind TEXT NOT NULL DEFAULT 'label' CHECK (kind IN ('label','alias','official','preferred')),
    UNIQUE (place_id, text, lang, kind)
);

CREATE INDEX IF NOT EXISTS idx_place_names_text ON place_names(text);

CREATE TABLE IF NOT EXISTS place_external_ids (
    place_id INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    source TEXT NOT NULL,
    ext_id TEXT NOT NULL,
    PRIMARY KEY (source, ext_id)
);

CREATE INDEX IF NOT EXISTS idx_place_ext_place ON place_external_ids(place_id);

-- Composite key includes relation so a place may have multiple parents
CREATE TABLE IF NOT EXISTS place_hierarchy (
    parent_id INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    child_id INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
    relation TEXT NOT NULL,
    PRIMARY KEY (parent_id, child_id, relation)
);

-- Ingestion runs: advisory lock + idempotence record per (source, version)
CREATE TABLE IF NOT EXISTS ingestion_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    source_version TEXT NOT NULL,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    status TEXT NOT NULL DEFAULT 'running',
    stats_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingestion_source ON ingestion_runs(source, source_version);

-- Plans and outcomes
CREATE TABLE IF NOT EXISTS plans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL,
    goal TEXT,
    steps_json TEXT NOT NULL,
    estimated_value REAL,
    estimated_cost REAL,
    probability REAL,
    lookahead INTEGER,
    branches_explored INTEGER,
    truncated BOOLEAN DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS plan_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id INTEGER NOT NULL REFERENCES plans(id),
    job_id INTEGER REFERENCES crawl_jobs(id),
    steps_completed INTEGER DEFAULT 0,
    backtracks INTEGER DEFAULT 0,
    actual_value REAL,
    performance_ratio REAL,
    failure_reason TEXT,
    completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS plan_step_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id INTEGER NOT NULL REFERENCES plans(id),
    step_index INTEGER NOT NULL,
    action_type TEXT NOT NULL,
    target_url_id INTEGER REFERENCES urls(id),
    expected_value REAL,
    actual_value REAL,
    completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS planning_heuristics (
    domain TEXT NOT NULL,
    pattern_signature TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    sample_count INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (domain, pattern_signature)
);

-- Background tasks persist across restarts
CREATE TABLE IF NOT EXISTS background_tasks (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'created',
    progress_json TEXT,
    params_json TEXT,
    started_at DATETIME,
    paused_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON background_tasks(status);

-- HTTP cache entries (facade persistence)
CREATE TABLE IF NOT EXISTS cache_entries (
    fingerprint TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    sub_type TEXT NOT NULL,
    headers_json TEXT,
    body BLOB,
    compression_preset_id INTEGER NOT NULL,
    uncompressed_size INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    ttl_seconds INTEGER NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    last_used_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cache_last_used ON cache_entries(last_used_at);
`
