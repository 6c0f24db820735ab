package db

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS symbols (
    sid BIGINT PRIMARY KEY,
    symbol TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    sec_type TEXT NOT NULL,
    region TEXT NOT NULL DEFAULT '',
    marketopen TEXT NOT NULL DEFAULT '',
    marketclose TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT '',
    overview BOOLEAN NOT NULL DEFAULT FALSE,
    intraday BOOLEAN NOT NULL DEFAULT FALSE,
    summary BOOLEAN NOT NULL DEFAULT FALSE,
    c_time TIMESTAMPTZ NOT NULL,
    m_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS overviews (
    sid BIGINT PRIMARY KEY REFERENCES symbols(sid),
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
    marketcapitalization BIGINT NOT NULL,
    ebitda BIGINT NOT NULL,
    peratio DOUBLE PRECISION NOT NULL,
    pegratio DOUBLE PRECISION NOT NULL,
    bookvalue DOUBLE PRECISION NOT NULL,
    dividendpershare DOUBLE PRECISION NOT NULL,
    dividendyield DOUBLE PRECISION NOT NULL,
    eps DOUBLE PRECISION NOT NULL,
    c_time TIMESTAMPTZ NOT NULL,
    mod_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS overviewexts (
    sid BIGINT PRIMARY KEY REFERENCES symbols(sid),
    revenuepersharettm DOUBLE PRECISION NOT NULL,
    profitmargin DOUBLE PRECISION NOT NULL,
    operatingmarginttm DOUBLE PRECISION NOT NULL,
    returnonassetsttm DOUBLE PRECISION NOT NULL,
    returnonequityttm DOUBLE PRECISION NOT NULL,
    revenuettm BIGINT NOT NULL,
    grossprofitttm BIGINT NOT NULL,
    dilutedepsttm DOUBLE PRECISION NOT NULL,
    quarterlyearningsgrowthyoy DOUBLE PRECISION NOT NULL,
    quarterlyrevenuegrowthyoy DOUBLE PRECISION NOT NULL,
    analysttargetprice DOUBLE PRECISION NOT NULL,
    trailingpe DOUBLE PRECISION NOT NULL,
    forwardpe DOUBLE PRECISION NOT NULL,
    pricetosalesratiottm DOUBLE PRECISION NOT NULL,
    pricetobookratio DOUBLE PRECISION NOT NULL,
    evtorevenue DOUBLE PRECISION NOT NULL,
    evtoebitda DOUBLE PRECISION NOT NULL,
    beta DOUBLE PRECISION NOT NULL,
    annweekhigh DOUBLE PRECISION NOT NULL,
    annweeklow DOUBLE PRECISION NOT NULL,
    fiftydaymovingaverage DOUBLE PRECISION NOT NULL,
    twohdaymovingaverage DOUBLE PRECISION NOT NULL,
    sharesoutstanding DOUBLE PRECISION NOT NULL,
    dividenddate DATE,
    exdividenddate DATE,
    c_time TIMESTAMPTZ NOT NULL,
    mod_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS intradayprices (
    eventid BIGSERIAL PRIMARY KEY,
    tstamp TIMESTAMPTZ NOT NULL,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    symbol TEXT NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume BIGINT NOT NULL,
    UNIQUE(tstamp, sid)
);

CREATE INDEX IF NOT EXISTS idx_intraday_sid_tstamp ON intradayprices(sid, tstamp);

CREATE TABLE IF NOT EXISTS summaryprices (
    eventid BIGSERIAL PRIMARY KEY,
    date DATE NOT NULL,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    symbol TEXT NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume BIGINT NOT NULL,
    UNIQUE(date, sid)
);

CREATE INDEX IF NOT EXISTS idx_summary_sid_date ON summaryprices(sid, date);

CREATE TABLE IF NOT EXISTS topstats (
    eventid BIGSERIAL PRIMARY KEY,
    date DATE NOT NULL,
    event_type TEXT NOT NULL,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    symbol TEXT NOT NULL,
    price DOUBLE PRECISION NOT NULL,
    change_val DOUBLE PRECISION NOT NULL,
    change_pct DOUBLE PRECISION NOT NULL,
    volume BIGINT NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL,
    UNIQUE(date, event_type, sid)
);

CREATE TABLE IF NOT EXISTS sources (
    id SERIAL PRIMARY KEY,
    source_name TEXT NOT NULL UNIQUE,
    domain TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS authors (
    id SERIAL PRIMARY KEY,
    author_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS articles (
    id SERIAL PRIMARY KEY,
    hashid BIGINT NOT NULL UNIQUE,
    sourceid INTEGER NOT NULL REFERENCES sources(id),
    category TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    banner TEXT NOT NULL DEFAULT '',
    author INTEGER REFERENCES authors(id),
    ct TIMESTAMPTZ NOT NULL,
    lang TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS newsoverviews (
    id SERIAL PRIMARY KEY,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    items INTEGER NOT NULL,
    hashid TEXT NOT NULL,
    sentiment_def TEXT NOT NULL DEFAULT '',
    relevance_def TEXT NOT NULL DEFAULT '',
    creation TIMESTAMPTZ NOT NULL,
    UNIQUE(hashid, sid)
);

CREATE TABLE IF NOT EXISTS feeds (
    id SERIAL PRIMARY KEY,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    newsoverviewid INTEGER NOT NULL REFERENCES newsoverviews(id),
    articleid INTEGER NOT NULL REFERENCES articles(id),
    sourceid INTEGER NOT NULL REFERENCES sources(id),
    osentiment DOUBLE PRECISION NOT NULL,
    sentlabel TEXT NOT NULL,
    UNIQUE(sid, articleid)
);

CREATE INDEX IF NOT EXISTS idx_feeds_overview ON feeds(newsoverviewid);

CREATE TABLE IF NOT EXISTS authormaps (
    id SERIAL PRIMARY KEY,
    feedid INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    authorid INTEGER NOT NULL REFERENCES authors(id)
);

CREATE INDEX IF NOT EXISTS idx_authormaps_feed ON authormaps(feedid);

CREATE TABLE IF NOT EXISTS topicrefs (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS topicmaps (
    id SERIAL PRIMARY KEY,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    feedid INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    topicid INTEGER NOT NULL REFERENCES topicrefs(id),
    relscore DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_topicmaps_feed ON topicmaps(feedid);

CREATE TABLE IF NOT EXISTS tickersentiments (
    id SERIAL PRIMARY KEY,
    feedid INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    sid BIGINT NOT NULL REFERENCES symbols(sid),
    relevance DOUBLE PRECISION NOT NULL,
    tsentiment DOUBLE PRECISION NOT NULL,
    sentimentlabel TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickersentiments_feed ON tickersentiments(feedid);

CREATE TABLE IF NOT EXISTS proctypes (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS states (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS procstates (
    spid SERIAL PRIMARY KEY,
    proc_id INTEGER NOT NULL REFERENCES proctypes(id),
    token TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_state INTEGER REFERENCES states(id),
    end_time TIMESTAMPTZ,
    note TEXT NOT NULL DEFAULT '',
    inserted INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_procstates_active ON procstates(proc_id) WHERE end_state IS NULL;
CREATE INDEX IF NOT EXISTS idx_procstates_start ON procstates(start_time DESC);

INSERT INTO states (id, name) VALUES
    (1, 'running'),
    (2, 'success'),
    (3, 'failed')
ON CONFLICT (id) DO NOTHING;
`
