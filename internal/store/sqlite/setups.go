package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

const setupColumns = `id, symbol, class, tf, direction, ts, pattern, priority, shape, pmg,
	trigger_price, target, targets, stop, rr, trigger_bar, target_bar,
	potential_outside, in_force, in_force_alerted, in_force_last_alerted,
	hit_magnitude, magnitude_alerted, magnitude_last_alerted,
	negated, negated_reasons, state, expires, initial_trigger, last_triggered, trigger_count`

var (
	_ model.SetupStore  = (*Store)(nil)
	_ model.PriceWriter = (*Store)(nil)
	_ model.RunRecorder = (*Store)(nil)
)

var terminalStates = []any{string(model.StateNegated), string(model.StateExpired), string(model.StateRetired)}

// InsertSetups writes new setups. Rows that collide with an existing
// (symbol, class, tf, pattern, direction, ts) are skipped.
func (s *Store) InsertSetups(ctx context.Context, setups []model.Setup) (int, error) {
	if len(setups) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO setups (symbol, class, tf, direction, ts, pattern, priority, shape, pmg,
			trigger_price, target, targets, stop, rr, trigger_bar, target_bar, state, expires, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	inserted := 0
	for i := range setups {
		su := &setups[i]
		trigBar, _ := json.Marshal(su.TriggerBar)
		targBar, _ := json.Marshal(su.TargetBar)
		state := su.State
		if state == "" {
			state = model.StatePending
		}
		res, err := stmt.ExecContext(ctx,
			su.Symbol, string(su.Class), su.TF.String(), int(su.Direction), unixMilli(su.Timestamp),
			su.Pattern.String(), su.Priority, su.Shape, su.PMG,
			su.Trigger, su.Target, formatLevels(su.Targets), su.Stop, su.RR, string(trigBar), string(targBar),
			string(state), unixMilli(su.Expires), now,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert setup %s: %w", su.Key(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// RunSetups inserts setups from in in batched transactions until ctx ends
// or in closes. onInserted, if set, receives the count of new rows.
func (s *Store) RunSetups(ctx context.Context, in <-chan model.Setup, onInserted func(int)) {
	batchLoop(ctx, in, func(batch []model.Setup) {
		start := time.Now()
		// the final flush may run after ctx is cancelled
		n, err := s.InsertSetups(context.Background(), batch)
		if err != nil {
			log.Printf("[sqlite] setup insert error: %v", err)
			return
		}
		if onInserted != nil {
			onInserted(n)
		}
		if n > 0 {
			log.Printf("[sqlite] inserted %d/%d setups in %v", n, len(batch), time.Since(start))
		}
	})
}

// PurgeTerminal deletes negated, expired and retired setups created
// before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	args := append(append([]any{}, terminalStates...), before.UnixMilli())
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM setups WHERE state IN (?, ?, ?) AND created_at < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("purge setups: %w", err)
	}
	return res.RowsAffected()
}

// Begin opens the transaction a scheduler tick runs in.
func (s *Store) Begin(ctx context.Context) (model.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &storeTx{tx: tx}, nil
}

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) Commit() error   { return t.tx.Commit() }
func (t *storeTx) Rollback() error { return t.tx.Rollback() }

func (t *storeTx) Symbols(ctx context.Context, class timeframe.SymbolType) ([]model.SymbolRec, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT symbol, class, price, as_of FROM symbols WHERE class = ? ORDER BY symbol`, string(class))
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var out []model.SymbolRec
	for rows.Next() {
		var r model.SymbolRec
		var cls string
		var asOf int64
		if err := rows.Scan(&r.Symbol, &cls, &r.Price, &asOf); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		r.Class = timeframe.SymbolType(cls)
		r.AsOf = fromMilli(asOf)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *storeTx) ActiveSetups(ctx context.Context, class timeframe.SymbolType, now time.Time) ([]*model.Setup, error) {
	args := append([]any{string(class)}, terminalStates...)
	args = append(args, now.UnixMilli())
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+setupColumns+`
		FROM setups
		WHERE class = ? AND state NOT IN (?, ?, ?) AND (expires = 0 OR expires > ?)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query setups: %w", err)
	}
	defer rows.Close()

	var out []*model.Setup
	for rows.Next() {
		su, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, su)
	}
	return out, rows.Err()
}

func scanSetup(rows *sql.Rows) (*model.Setup, error) {
	var (
		su                                 model.Setup
		class, tf, pattern, reasons, state string
		trigBar, targBar, targets          string
		dir                                int
		ts, ifAlerted, magAlerted, expires int64
		initial, last                      int64
	)
	err := rows.Scan(&su.ID, &su.Symbol, &class, &tf, &dir, &ts, &pattern, &su.Priority, &su.Shape, &su.PMG,
		&su.Trigger, &su.Target, &targets, &su.Stop, &su.RR, &trigBar, &targBar,
		&su.PotentialOutside, &su.InForce, &su.InForceAlerted, &ifAlerted,
		&su.HitMagnitude, &su.MagnitudeAlerted, &magAlerted,
		&su.Negated, &reasons, &state, &expires, &initial, &last, &su.TriggerCount)
	if err != nil {
		return nil, fmt.Errorf("scan setup: %w", err)
	}

	su.Class = timeframe.SymbolType(class)
	if su.TF, err = timeframe.Parse(tf); err != nil {
		return nil, fmt.Errorf("setup %d: %w", su.ID, err)
	}
	if su.Pattern, err = model.ParsePattern(pattern); err != nil {
		return nil, fmt.Errorf("setup %d: %w", su.ID, err)
	}
	if err := json.Unmarshal([]byte(trigBar), &su.TriggerBar); err != nil {
		return nil, fmt.Errorf("setup %d trigger bar: %w", su.ID, err)
	}
	if err := json.Unmarshal([]byte(targBar), &su.TargetBar); err != nil {
		return nil, fmt.Errorf("setup %d target bar: %w", su.ID, err)
	}
	su.Direction = model.Direction(dir)
	su.Timestamp = fromMilli(ts)
	su.InForceLastAlerted = fromMilli(ifAlerted)
	su.MagnitudeLastAlerted = fromMilli(magAlerted)
	su.NegatedReasons = parseReasons(reasons)
	su.Targets = parseLevels(targets)
	su.State = model.State(state)
	su.Expires = fromMilli(expires)
	su.InitialTrigger = fromMilli(initial)
	su.LastTriggered = fromMilli(last)
	return &su, nil
}

func (t *storeTx) FreshPrices(ctx context.Context, class timeframe.SymbolType, since time.Time) (map[string]float64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT symbol, price FROM symbols WHERE class = ? AND as_of >= ? AND price > 0`,
		string(class), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var sym string
		var p float64
		if err := rows.Scan(&sym, &p); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out[sym] = p
	}
	return out, rows.Err()
}

// UpdateSetups writes only the dirty columns of each setup.
func (t *storeTx) UpdateSetups(ctx context.Context, setups []*model.Setup) (int, error) {
	n := 0
	for _, su := range setups {
		cols, args := dirtyColumns(su)
		if len(cols) == 0 {
			continue
		}
		args = append(args, su.ID)
		q := "UPDATE setups SET " + strings.Join(cols, ", ") + " WHERE id = ?"
		if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
			return n, fmt.Errorf("update setup %d: %w", su.ID, err)
		}
		n++
	}
	return n, nil
}

func dirtyColumns(su *model.Setup) ([]string, []any) {
	f := su.Dirty()
	var cols []string
	var args []any
	set := func(field model.Field, col string, v any) {
		if f.Has(field) {
			cols = append(cols, col+" = ?")
			args = append(args, v)
		}
	}
	set(model.FieldTrigger, "trigger_price", su.Trigger)
	set(model.FieldTarget, "target", su.Target)
	set(model.FieldRR, "rr", su.RR)
	set(model.FieldPotentialOutside, "potential_outside", su.PotentialOutside)
	set(model.FieldInForce, "in_force", su.InForce)
	set(model.FieldInForceAlerted, "in_force_alerted", su.InForceAlerted)
	set(model.FieldInForceAlerted, "in_force_last_alerted", unixMilli(su.InForceLastAlerted))
	set(model.FieldHitMagnitude, "hit_magnitude", su.HitMagnitude)
	set(model.FieldMagnitudeAlerted, "magnitude_alerted", su.MagnitudeAlerted)
	set(model.FieldMagnitudeAlerted, "magnitude_last_alerted", unixMilli(su.MagnitudeLastAlerted))
	set(model.FieldNegated, "negated", su.Negated)
	set(model.FieldNegated, "negated_reasons", formatReasons(su.NegatedReasons))
	set(model.FieldState, "state", string(su.State))
	set(model.FieldExpires, "expires", unixMilli(su.Expires))
	set(model.FieldInitialTrigger, "initial_trigger", unixMilli(su.InitialTrigger))
	set(model.FieldLastTriggered, "last_triggered", unixMilli(su.LastTriggered))
	set(model.FieldTriggerCount, "trigger_count", su.TriggerCount)
	return cols, args
}

// negated_reasons is a comma separated list of reason codes.
func formatReasons(rs []model.NegatedReason) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = strconv.Itoa(int(r))
	}
	return strings.Join(parts, ",")
}

// targets is a comma separated list of price levels.
func formatLevels(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func parseLevels(s string) []float64 {
	if s == "" {
		return nil
	}
	var out []float64
	for _, p := range strings.Split(s, ",") {
		if v, err := strconv.ParseFloat(p, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseReasons(s string) []model.NegatedReason {
	if s == "" {
		return nil
	}
	var out []model.NegatedReason
	for _, p := range strings.Split(s, ",") {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, model.NegatedReason(v))
		}
	}
	return out
}
