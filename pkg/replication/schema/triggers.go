package schema

// Trigger names.
const (
	TriggerInsert = "memories_replication_insert"
	TriggerUpdate = "memories_replication_update"
	TriggerDelete = "memories_replication_delete"
)

// Writes made while a record's id is present in replication_guard are remote
// applies: they keep the incoming version and origin, and their log rows are
// written already synced. Every other write is local: it bumps the version,
// claims the record for this node and leaves a pending log row.
const (
	guarded  = `EXISTS (SELECT 1 FROM replication_guard g WHERE g.record_id = NEW.id)`
	nodeID   = `(SELECT node_id FROM replication_node WHERE singleton = 1)`
	sqlNowMs = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
)

var triggers = []struct {
	name string
	ddl  string
}{
	{
		name: TriggerInsert,
		ddl: `CREATE TRIGGER ` + TriggerInsert + ` AFTER INSERT ON memories
BEGIN
	UPDATE memories SET version = 1 WHERE id = NEW.id AND NEW.version = 0;
	INSERT INTO mutation_log (operation, record_id, version, origin_id, timestamp, synced)
	SELECT 'insert', m.id, m.version, m.origin_id, m.updated_at, ` + guarded + `
	FROM memories m WHERE m.id = NEW.id;
END`,
	},
	{
		name: TriggerUpdate,
		ddl: `CREATE TRIGGER ` + TriggerUpdate + ` AFTER UPDATE ON memories
WHEN NEW.version = OLD.version OR ` + guarded + `
BEGIN
	UPDATE memories
	SET version = OLD.version + 1,
	    origin_id = ` + nodeID + `,
	    updated_at = CASE WHEN NEW.updated_at = OLD.updated_at THEN ` + sqlNowMs + ` ELSE NEW.updated_at END
	WHERE id = NEW.id AND NOT ` + guarded + `;
	INSERT INTO mutation_log (operation, record_id, version, origin_id, timestamp, synced)
	SELECT CASE WHEN NEW.deleted = 1 AND OLD.deleted = 0 THEN 'delete' ELSE 'update' END,
	       m.id, m.version, m.origin_id, m.updated_at, ` + guarded + `
	FROM memories m WHERE m.id = NEW.id;
END`,
	},
	{
		name: TriggerDelete,
		ddl: `CREATE TRIGGER ` + TriggerDelete + ` BEFORE DELETE ON memories
BEGIN
	UPDATE memories
	SET deleted = 1,
	    version = OLD.version + 1,
	    origin_id = ` + nodeID + `,
	    updated_at = ` + sqlNowMs + `
	WHERE id = OLD.id AND OLD.deleted = 0;
	INSERT INTO mutation_log (operation, record_id, version, origin_id, timestamp, synced)
	SELECT 'delete', m.id, m.version, m.origin_id, m.updated_at, 0
	FROM memories m WHERE m.id = OLD.id AND OLD.deleted = 0;
	SELECT RAISE(IGNORE);
END`,
	},
}
