package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/command"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// SQLiteRepository loads and stores the monitor configuration.
//
// It implements monitor.Loader. The Save methods are upserts used after an
// administrative change has been applied to the cache, so the next start
// sees the same configuration.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open connection whose
// schema has been migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const tagColumns = `id, name, kind, data_type, process_id, equipment_id, subequipment_id,
	min_value, max_value, rule_text, rule_inputs, role, fault_value, alarm_ids,
	value, value_description, quality, source_ts, daq_ts`

// LoadTags returns every configured tag with its last persisted state.
// A tag never persisted with a value starts UNINITIALISED.
func (r *SQLiteRepository) LoadTags(ctx context.Context) ([]*tag.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var out []*tag.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return out, nil
}

func scanTag(rows *sql.Rows) (*tag.Tag, error) {
	var (
		t                                tag.Tag
		kind, dataType                   string
		processID, equipmentID, subID    sql.NullInt64
		minValue, maxValue               sql.NullFloat64
		ruleText, role, valueDesc        sql.NullString
		ruleInputs, faultValue, alarmIDs sql.NullString
		value, quality, sourceTS, daqTS  sql.NullString
	)
	if err := rows.Scan(&t.ID, &t.Name, &kind, &dataType, &processID, &equipmentID, &subID,
		&minValue, &maxValue, &ruleText, &ruleInputs, &role, &faultValue, &alarmIDs,
		&value, &valueDesc, &quality, &sourceTS, &daqTS); err != nil {
		return nil, fmt.Errorf("scanning tag row: %w", err)
	}

	t.Kind = tag.Kind(kind)
	t.DataType = tag.DataType(dataType)
	t.ProcessID, t.EquipmentID, t.SubEquipmentID = processID.Int64, equipmentID.Int64, subID.Int64
	t.MinValue, t.MaxValue = floatPtr(minValue), floatPtr(maxValue)
	t.RuleText, t.Role, t.ValueDescription = ruleText.String, tag.ControlRole(role.String), valueDesc.String

	var raw any
	for _, f := range []struct {
		src  sql.NullString
		into any
	}{
		{ruleInputs, &t.RuleInputs},
		{faultValue, &t.FaultValue},
		{alarmIDs, &t.AlarmIDs},
		{value, &raw},
		{quality, &t.Quality},
	} {
		if err := decodeJSON(f.src, f.into); err != nil {
			return nil, fmt.Errorf("tag %d: %w", t.ID, err)
		}
	}

	v, err := tag.Coerce(t.DataType, raw)
	if err != nil {
		return nil, fmt.Errorf("tag %d: %w: %v", t.ID, ErrCorruptRow, err)
	}
	t.Value = v

	if t.SourceTimestamp, err = parseTime(sourceTS); err != nil {
		return nil, fmt.Errorf("tag %d: %w", t.ID, err)
	}
	if t.DAQTimestamp, err = parseTime(daqTS); err != nil {
		return nil, fmt.Errorf("tag %d: %w", t.ID, err)
	}
	if t.Value == nil && !t.Quality.Has(tag.StatusUninitialised) {
		t.Quality.Add(tag.StatusUninitialised, "never updated")
	}
	return &t, nil
}

// SaveTag inserts or replaces a tag definition together with its current
// runtime state.
func (r *SQLiteRepository) SaveTag(ctx context.Context, t *tag.Tag) error {
	var enc [5]sql.NullString
	var quality any
	if len(t.Quality) > 0 {
		quality = t.Quality
	}
	for i, v := range []any{t.RuleInputs, t.FaultValue, t.AlarmIDs, t.Value, quality} {
		s, err := encodeJSON(v)
		if err != nil {
			return fmt.Errorf("encoding tag %d: %w", t.ID, err)
		}
		enc[i] = s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tags (`+tagColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, data_type = excluded.data_type,
			process_id = excluded.process_id, equipment_id = excluded.equipment_id,
			subequipment_id = excluded.subequipment_id,
			min_value = excluded.min_value, max_value = excluded.max_value,
			rule_text = excluded.rule_text, rule_inputs = excluded.rule_inputs,
			role = excluded.role, fault_value = excluded.fault_value, alarm_ids = excluded.alarm_ids,
			value = excluded.value, value_description = excluded.value_description,
			quality = excluded.quality, source_ts = excluded.source_ts, daq_ts = excluded.daq_ts`,
		t.ID, t.Name, string(t.Kind), string(t.DataType),
		nullInt(t.ProcessID), nullInt(t.EquipmentID), nullInt(t.SubEquipmentID),
		nullFloat(t.MinValue), nullFloat(t.MaxValue),
		nullString(t.RuleText), enc[0], nullString(string(t.Role)), enc[1], enc[2],
		enc[3], nullString(t.ValueDescription), enc[4],
		formatTime(t.SourceTimestamp), formatTime(t.DAQTimestamp),
	)
	if err != nil {
		return fmt.Errorf("saving tag %d: %w", t.ID, err)
	}
	return nil
}

// DeleteTag removes a tag. Its update log rows are kept until purged.
func (r *SQLiteRepository) DeleteTag(ctx context.Context, id int64) error {
	return r.deleteRow(ctx, "DELETE FROM tags WHERE id = ?", "tag", id)
}

// LoadProcesses returns every configured process.
func (r *SQLiteRepository) LoadProcesses(ctx context.Context) ([]*supervision.Entity, error) {
	return r.loadEntities(ctx, supervision.FamilyProcess)
}

// LoadEquipment returns every configured equipment.
func (r *SQLiteRepository) LoadEquipment(ctx context.Context) ([]*supervision.Entity, error) {
	return r.loadEntities(ctx, supervision.FamilyEquipment)
}

// LoadSubEquipment returns every configured sub-equipment.
func (r *SQLiteRepository) LoadSubEquipment(ctx context.Context) ([]*supervision.Entity, error) {
	return r.loadEntities(ctx, supervision.FamilySubEquipment)
}

func (r *SQLiteRepository) loadEntities(ctx context.Context, f supervision.Family) ([]*supervision.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, parent_id, state_tag_id, alive_tag_id, commfault_tag_id,
			alive_interval_ms, status, status_reason, status_time
		FROM entities
		WHERE family = ?
		ORDER BY id`, string(f))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", f, err)
	}
	defer rows.Close()

	var out []*supervision.Entity
	for rows.Next() {
		e := &supervision.Entity{Family: f}
		var intervalMS int64
		var status, reason, statusTime sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.ParentID, &e.StateTagID, &e.AliveTagID, &e.CommFaultTagID,
			&intervalMS, &status, &reason, &statusTime); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", f, err)
		}
		e.AliveInterval = time.Duration(intervalMS) * time.Millisecond
		e.Status = supervision.Status(status.String)
		e.StatusReason = reason.String
		if e.StatusTime, err = parseTime(statusTime); err != nil {
			return nil, fmt.Errorf("%s %d: %w", f, e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", f, err)
	}
	return out, nil
}

// SaveEntity inserts or replaces a supervised entity with its current status.
func (r *SQLiteRepository) SaveEntity(ctx context.Context, e *supervision.Entity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (family, id, name, parent_id, state_tag_id, alive_tag_id,
			commfault_tag_id, alive_interval_ms, status, status_reason, status_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (family, id) DO UPDATE SET
			name = excluded.name, parent_id = excluded.parent_id,
			state_tag_id = excluded.state_tag_id, alive_tag_id = excluded.alive_tag_id,
			commfault_tag_id = excluded.commfault_tag_id,
			alive_interval_ms = excluded.alive_interval_ms,
			status = excluded.status, status_reason = excluded.status_reason,
			status_time = excluded.status_time`,
		string(e.Family), e.ID, e.Name, e.ParentID, e.StateTagID, e.AliveTagID,
		e.CommFaultTagID, e.AliveInterval.Milliseconds(),
		nullString(string(e.Status)), nullString(e.StatusReason), formatTime(e.StatusTime),
	)
	if err != nil {
		return fmt.Errorf("saving %s %d: %w", e.Family, e.ID, err)
	}
	return nil
}

// DeleteEntity removes a supervised entity.
func (r *SQLiteRepository) DeleteEntity(ctx context.Context, f supervision.Family, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM entities WHERE family = ? AND id = ?", string(f), id)
	return rowsDeleted(res, err, string(f), id)
}

// LoadCommandTags returns every configured command tag.
func (r *SQLiteRepository) LoadCommandTags(ctx context.Context) ([]*command.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, process_id, equipment_id, data_type, min_value, max_value, exec_timeout_ms
		FROM command_tags
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying command tags: %w", err)
	}
	defer rows.Close()

	var out []*command.Tag
	for rows.Next() {
		c := &command.Tag{}
		var dataType string
		var minValue, maxValue sql.NullFloat64
		var timeoutMS int64
		if err := rows.Scan(&c.ID, &c.Name, &c.ProcessID, &c.EquipmentID, &dataType,
			&minValue, &maxValue, &timeoutMS); err != nil {
			return nil, fmt.Errorf("scanning command tag row: %w", err)
		}
		c.DataType = tag.DataType(dataType)
		c.MinValue, c.MaxValue = floatPtr(minValue), floatPtr(maxValue)
		c.ExecTimeout = time.Duration(timeoutMS) * time.Millisecond
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command tags: %w", err)
	}
	return out, nil
}

// SaveCommand inserts or replaces a command tag definition.
// Execution reports are runtime state and are not persisted.
func (r *SQLiteRepository) SaveCommand(ctx context.Context, c *command.Tag) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_tags (id, name, process_id, equipment_id, data_type,
			min_value, max_value, exec_timeout_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, process_id = excluded.process_id,
			equipment_id = excluded.equipment_id, data_type = excluded.data_type,
			min_value = excluded.min_value, max_value = excluded.max_value,
			exec_timeout_ms = excluded.exec_timeout_ms`,
		c.ID, c.Name, c.ProcessID, c.EquipmentID, string(c.DataType),
		nullFloat(c.MinValue), nullFloat(c.MaxValue), c.ExecTimeout.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("saving command tag %d: %w", c.ID, err)
	}
	return nil
}

// DeleteCommand removes a command tag.
func (r *SQLiteRepository) DeleteCommand(ctx context.Context, id int64) error {
	return r.deleteRow(ctx, "DELETE FROM command_tags WHERE id = ?", "command tag", id)
}

func (r *SQLiteRepository) deleteRow(ctx context.Context, query, what string, id int64) error {
	res, err := r.db.ExecContext(ctx, query, id)
	return rowsDeleted(res, err, what, id)
}

func rowsDeleted(res sql.Result, err error, what string, id int64) error {
	if err != nil {
		return fmt.Errorf("deleting %s %d: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return nil
}
