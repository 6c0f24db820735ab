package db

const schemaSQLite = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Symbols: one row per listed security, sid is the encoded security id
CREATE TABLE IF NOT EXISTS symbols (
    sid INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    sec_type TEXT NOT NULL,
    region TEXT NOT NULL DEFAULT '',
    marketopen TEXT NOT NULL DEFAULT '',
    marketclose TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT '',

    -- Domain flags, only ever set to 1
    overview BOOLEAN NOT NULL DEFAULT 0,
    intraday BOOLEAN NOT NULL DEFAULT 0,
    summary BOOLEAN NOT NULL DEFAULT 0,

    c_time TIMESTAMP NOT NULL,
    m_time TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS overviews (
    sid INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL,
    cik TEXT NOT NULL,
    exch TEXT NOT NULL,
    curr TEXT NOT NULL,
    country TEXT NOT NULL,
    sector TEXT NOT NULL,
    industry TEXT NOT NULL,
    address TEXT NOT NULL,
    fiscalyearend TEXT NOT NULL,
    latestquarter DATE,
    marketcapitalization INTEGER NOT NULL,
    ebitda INTEGER NOT NULL,
    peratio REAL NOT NULL,
    pegratio REAL NOT NULL,
    bookvalue REAL NOT NULL,
    dividendpershare REAL NOT NULL,
    dividendyield REAL NOT NULL,
    eps REAL NOT NULL,
    c_time TIMESTAMP NOT NULL,
    mod_time TIMESTAMP NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid)
);

CREATE TABLE IF NOT EXISTS overviewexts (
    sid INTEGER PRIMARY KEY,
    revenuepersharettm REAL NOT NULL,
    profitmargin REAL NOT NULL,
    operatingmarginttm REAL NOT NULL,
    returnonassetsttm REAL NOT NULL,
    returnonequityttm REAL NOT NULL,
    revenuettm INTEGER NOT NULL,
    grossprofitttm INTEGER NOT NULL,
    dilutedepsttm REAL NOT NULL,
    quarterlyearningsgrowthyoy REAL NOT NULL,
    quarterlyrevenuegrowthyoy REAL NOT NULL,
    analysttargetprice REAL NOT NULL,
    trailingpe REAL NOT NULL,
    forwardpe REAL NOT NULL,
    pricetosalesratiottm REAL NOT NULL,
    pricetobookratio REAL NOT NULL,
    evtorevenue REAL NOT NULL,
    evtoebitda REAL NOT NULL,
    beta REAL NOT NULL,
    annweekhigh REAL NOT NULL,
    annweeklow REAL NOT NULL,
    fiftydaymovingaverage REAL NOT NULL,
    twohdaymovingaverage REAL NOT NULL,
    sharesoutstanding REAL NOT NULL,
    dividenddate DATE,
    exdividenddate DATE,
    c_time TIMESTAMP NOT NULL,
    mod_time TIMESTAMP NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid)
);

-- Time series: first write wins on the natural key
CREATE TABLE IF NOT EXISTS intradayprices (
    eventid INTEGER PRIMARY KEY AUTOINCREMENT,
    tstamp TIMESTAMP NOT NULL,
    sid INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume INTEGER NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    UNIQUE(tstamp, sid)
);

CREATE INDEX IF NOT EXISTS idx_intraday_sid_tstamp ON intradayprices(sid, tstamp);

CREATE TABLE IF NOT EXISTS summaryprices (
    eventid INTEGER PRIMARY KEY AUTOINCREMENT,
    date DATE NOT NULL,
    sid INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume INTEGER NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    UNIQUE(date, sid)
);

CREATE INDEX IF NOT EXISTS idx_summary_sid_date ON summaryprices(sid, date);

CREATE TABLE IF NOT EXISTS topstats (
    eventid INTEGER PRIMARY KEY AUTOINCREMENT,
    date DATE NOT NULL,
    event_type TEXT NOT NULL,
    sid INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    price REAL NOT NULL,
    change_val REAL NOT NULL,
    change_pct REAL NOT NULL,
    volume INTEGER NOT NULL,
    last_updated TIMESTAMP NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    UNIQUE(date, event_type, sid)
);

-- News
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_name TEXT NOT NULL UNIQUE,
    domain TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS authors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    author_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hashid INTEGER NOT NULL UNIQUE,
    sourceid INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    banner TEXT NOT NULL DEFAULT '',
    author INTEGER,
    ct TIMESTAMP NOT NULL,
    lang TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (sourceid) REFERENCES sources(id),
    FOREIGN KEY (author) REFERENCES authors(id)
);

CREATE TABLE IF NOT EXISTS newsoverviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sid INTEGER NOT NULL,
    items INTEGER NOT NULL,
    hashid TEXT NOT NULL,
    sentiment_def TEXT NOT NULL DEFAULT '',
    relevance_def TEXT NOT NULL DEFAULT '',
    creation TIMESTAMP NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    UNIQUE(hashid, sid)
);

CREATE TABLE IF NOT EXISTS feeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sid INTEGER NOT NULL,
    newsoverviewid INTEGER NOT NULL,
    articleid INTEGER NOT NULL,
    sourceid INTEGER NOT NULL,
    osentiment REAL NOT NULL,
    sentlabel TEXT NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    FOREIGN KEY (newsoverviewid) REFERENCES newsoverviews(id),
    FOREIGN KEY (articleid) REFERENCES articles(id),
    FOREIGN KEY (sourceid) REFERENCES sources(id),
    UNIQUE(sid, articleid)
);

CREATE INDEX IF NOT EXISTS idx_feeds_overview ON feeds(newsoverviewid);

-- Feed associations, owned by exactly one feed
CREATE TABLE IF NOT EXISTS authormaps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feedid INTEGER NOT NULL,
    authorid INTEGER NOT NULL,
    FOREIGN KEY (feedid) REFERENCES feeds(id) ON DELETE CASCADE,
    FOREIGN KEY (authorid) REFERENCES authors(id)
);

CREATE INDEX IF NOT EXISTS idx_authormaps_feed ON authormaps(feedid);

CREATE TABLE IF NOT EXISTS topicrefs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS topicmaps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sid INTEGER NOT NULL,
    feedid INTEGER NOT NULL,
    topicid INTEGER NOT NULL,
    relscore REAL NOT NULL,
    FOREIGN KEY (sid) REFERENCES symbols(sid),
    FOREIGN KEY (feedid) REFERENCES feeds(id) ON DELETE CASCADE,
    FOREIGN KEY (topicid) REFERENCES topicrefs(id)
);

CREATE INDEX IF NOT EXISTS idx_topicmaps_feed ON topicmaps(feedid);

CREATE TABLE IF NOT EXISTS tickersentiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feedid INTEGER NOT NULL,
    sid INTEGER NOT NULL,
    relevance REAL NOT NULL,
    tsentiment REAL NOT NULL,
    sentimentlabel TEXT NOT NULL,
    FOREIGN KEY (feedid) REFERENCES feeds(id) ON DELETE CASCADE,
    FOREIGN KEY (sid) REFERENCES symbols(sid)
);

CREATE INDEX IF NOT EXISTS idx_tickersentiments_feed ON tickersentiments(feedid);

-- Job bookkeeping
CREATE TABLE IF NOT EXISTS proctypes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS states (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS procstates (
    spid INTEGER PRIMARY KEY AUTOINCREMENT,
    proc_id INTEGER NOT NULL,
    token TEXT NOT NULL,
    start_time TIMESTAMP NOT NULL,
    end_state INTEGER,
    end_time TIMESTAMP,
    note TEXT NOT NULL DEFAULT '',
    inserted INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (proc_id) REFERENCES proctypes(id),
    FOREIGN KEY (end_state) REFERENCES states(id)
);

-- At most one unclosed run per proc type
CREATE UNIQUE INDEX IF NOT EXISTS ux_procstates_active ON procstates(proc_id) WHERE end_state IS NULL;
CREATE INDEX IF NOT EXISTS idx_procstates_start ON procstates(start_time DESC);

-- Seed job states
INSERT OR IGNORE INTO states (id, name) VALUES
    (1, 'running'),
    (2, 'success'),
    (3, 'failed');
`
