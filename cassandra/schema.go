package cassandra

const schemaTemplate string = `-- The schema file for the url-frontier
--
-- This file gets generated from a Go template so the keyspace and replication
-- can be configured (particularly for testing purposes)
CREATE KEYSPACE {{.Keyspace}}
WITH REPLICATION = { 'class': 'SimpleStrategy', 'replication_factor': {{.ReplicationFactor}} };

-- scheduled holds every queue's ordered set of URLs waiting to be served.
-- The clustering key (at, seq) makes a partition read come back in schedule
-- order: at is the time the URL becomes eligible, seq breaks ties by
-- insertion order.
CREATE TABLE {{.Keyspace}}.scheduled (
	-- crawl id, namespaces all state
	crawl text,

	-- queue key, by default the registered domain, ex. "bbc.co.uk"
	queue text,

	-- the time this URL becomes eligible to be served
	at timestamp,

	-- insertion tie-break within one timestamp
	seq bigint,

	url text,

	-- caller metadata, list values are joined with \000 (see joinMeta)
	meta map<text,text>,

	-- true while the URL is handed to a consumer and not yet completed
	in_flight boolean,

	PRIMARY KEY ((crawl, queue), at, seq)
) WITH compaction = { 'class' : 'LeveledCompactionStrategy' }
	-- Served entries move around the partition constantly: reclaim deletes
	-- quickly, re-serving an entry after a lost tombstone is harmless.
	AND gc_grace_seconds = 600;

-- sched_index maps a URL back to its clustering position in scheduled, so
-- that in-flight updates and completions can find the row to move.
CREATE TABLE {{.Keyspace}}.sched_index (
	crawl text,
	queue text,
	url text,
	at timestamp,
	seq bigint,
	PRIMARY KEY ((crawl, queue), url)
) WITH compaction = { 'class' : 'LeveledCompactionStrategy' };

-- known_urls is the per-crawl known-set: one row per URL ever ingested under
-- the crawl. The URL is stored as a blake3 digest to keep rows fixed-width.
CREATE TABLE {{.Keyspace}}.known_urls (
	crawl text,
	url_hash blob,
	PRIMARY KEY (crawl, url_hash)
) WITH compaction = { 'class' : 'LeveledCompactionStrategy' };

-- queue_counters tracks per-queue totals. Counter columns increment and
-- decrement in a concurrent-consistent manner.
CREATE TABLE {{.Keyspace}}.queue_counters (
	crawl text,
	queue text,
	scheduled counter,
	in_flight counter,
	completed counter,
	PRIMARY KEY (crawl, queue)
);

-- crawl_info lists the crawl ids present in the store.
CREATE TABLE {{.Keyspace}}.crawl_info (
	crawl text,
	PRIMARY KEY (crawl)
);`
