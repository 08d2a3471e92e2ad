package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"clinicalledger/backend/internal/db"
	"clinicalledger/backend/internal/model"
)

// PostgresStore is the relational Store implementation, grounded on the
// teacher's internal/api handlers' direct s.db.Pool.Query/QueryRow/Exec
// usage and jsonb marshal/unmarshal idiom.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore wraps an already-connected and migrated *db.DB.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) UpsertTransaction(ctx context.Context, tx model.Transaction) error {
	payloadRaw, err := json.Marshal(tx.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO transactions(id,type,tier,priority,payload,signature,status,block_hash,actor_id,actor_type,details,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			type=$2, tier=$3, priority=$4, payload=$5, signature=$6, status=$7, block_hash=$8,
			actor_id=$9, actor_type=$10, details=$11
	`, tx.ID, tx.Type, tx.Tier, tx.Priority, payloadRaw, nullIfEmpty(tx.Signature), tx.Status,
		nullIfEmpty(tx.BlockHash), nullIfEmpty(tx.ActorID), nullIfEmpty(tx.ActorType), nullIfEmpty(tx.Details), tx.CreatedAt)
	return err
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (model.Transaction, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id,type,tier,priority,payload,signature,status,block_hash,actor_id,actor_type,details,created_at
		FROM transactions WHERE id=$1
	`, id)
	tx, err := scanTransaction(row)
	if err == pgx.ErrNoRows {
		return model.Transaction{}, ErrNotFound
	}
	return tx, err
}

func (s *PostgresStore) QueryTransactions(ctx context.Context, patientID, txType, status string, limit int) ([]model.Transaction, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if patientID != "" {
		args = append(args, patientID)
		clauses = append(clauses, fmt.Sprintf("payload->>'patientId' = $%d", len(args)))
	}
	if txType != "" {
		args = append(args, txType)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id,type,tier,priority,payload,signature,status,block_hash,actor_id,actor_type,details,created_at
		FROM transactions %s ORDER BY created_at DESC LIMIT $%d
	`, where, len(args))
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var tx model.Transaction
	var payloadRaw []byte
	var signature, blockHash, actorID, actorType, details *string
	if err := row.Scan(&tx.ID, &tx.Type, &tx.Tier, &tx.Priority, &payloadRaw, &signature, &tx.Status,
		&blockHash, &actorID, &actorType, &details, &tx.CreatedAt); err != nil {
		return model.Transaction{}, err
	}
	tx.Payload = model.Payload{}
	_ = json.Unmarshal(payloadRaw, &tx.Payload)
	tx.Signature = deref(signature)
	tx.BlockHash = deref(blockHash)
	tx.ActorID = deref(actorID)
	tx.ActorType = deref(actorType)
	tx.Details = deref(details)
	return tx, nil
}

func (s *PostgresStore) LoadMempoolSnapshot(ctx context.Context) (model.MempoolSnapshot, bool, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT snapshot FROM mempool_snapshot WHERE id=1`).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.MempoolSnapshot{}, false, nil
	}
	if err != nil {
		return model.MempoolSnapshot{}, false, err
	}
	var snap model.MempoolSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.MempoolSnapshot{}, false, nil // treat corruption as absence
	}
	return snap, true, nil
}

func (s *PostgresStore) SaveMempoolSnapshot(ctx context.Context, snap model.MempoolSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO mempool_snapshot(id, snapshot, updated_at) VALUES(1, $1, now())
		ON CONFLICT (id) DO UPDATE SET snapshot=$1, updated_at=now()
	`, raw)
	return err
}

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	metaRaw, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	tagsRaw, err := json.Marshal(entry.Tags)
	if err != nil {
		return err
	}
	var seq int64
	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO audit_log(id,timestamp,action,actor_id,actor_type,resource,outcome,patient_id,ip_address,block_hash,details,metadata,tags,channel,prev_hash,integrity_hash)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING sequence
	`, entry.ID, entry.Timestamp, entry.Action, entry.ActorID, entry.ActorType, entry.Resource, entry.Outcome,
		nullIfEmpty(entry.PatientID), nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.BlockHash), nullIfEmpty(entry.Details),
		metaRaw, tagsRaw, entry.Channel, entry.PrevHash, entry.IntegrityHash).Scan(&seq)
	if err != nil {
		return err
	}
	if seq != entry.Sequence {
		return fmt.Errorf("storage: sequence mismatch, expected %d got %d (concurrent append?)", entry.Sequence, seq)
	}
	return nil
}

func (s *PostgresStore) TailAuditEntry(ctx context.Context) (model.AuditEntry, bool, error) {
	row := s.db.Pool.QueryRow(ctx, auditSelectColumns+` FROM audit_log ORDER BY sequence DESC LIMIT 1`)
	entry, err := scanAuditEntry(row)
	if err == pgx.ErrNoRows {
		return model.AuditEntry{}, false, nil
	}
	if err != nil {
		return model.AuditEntry{}, false, err
	}
	return entry, true, nil
}

func (s *PostgresStore) GetAuditEntryBySequence(ctx context.Context, seqNum int64) (model.AuditEntry, bool, error) {
	row := s.db.Pool.QueryRow(ctx, auditSelectColumns+` FROM audit_log WHERE sequence=$1`, seqNum)
	entry, err := scanAuditEntry(row)
	if err == pgx.ErrNoRows {
		return model.AuditEntry{}, false, nil
	}
	if err != nil {
		return model.AuditEntry{}, false, err
	}
	return entry, true, nil
}

const auditSelectColumns = `
	SELECT sequence,id,timestamp,action,actor_id,actor_type,resource,outcome,patient_id,ip_address,block_hash,details,metadata,tags,channel,prev_hash,integrity_hash
`

func scanAuditEntry(row rowScanner) (model.AuditEntry, error) {
	var e model.AuditEntry
	var patientID, ipAddress, blockHash, details *string
	var metaRaw, tagsRaw []byte
	if err := row.Scan(&e.Sequence, &e.ID, &e.Timestamp, &e.Action, &e.ActorID, &e.ActorType, &e.Resource, &e.Outcome,
		&patientID, &ipAddress, &blockHash, &details, &metaRaw, &tagsRaw, &e.Channel, &e.PrevHash, &e.IntegrityHash); err != nil {
		return model.AuditEntry{}, err
	}
	e.PatientID = deref(patientID)
	e.IPAddress = deref(ipAddress)
	e.BlockHash = deref(blockHash)
	e.Details = deref(details)
	e.Metadata = map[string]any{}
	_ = json.Unmarshal(metaRaw, &e.Metadata)
	_ = json.Unmarshal(tagsRaw, &e.Tags)
	return e, nil
}

func (s *PostgresStore) QueryAuditEntries(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	clauses := make([]string, 0)
	args := make([]any, 0)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("actor_id", filter.ActorID)
	add("actor_type", filter.ActorType)
	add("patient_id", filter.PatientID)
	add("resource", filter.Resource)
	add("action", filter.Action)
	add("outcome", filter.Outcome)
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	for _, tag := range filter.Tags {
		args = append(args, tag)
		clauses = append(clauses, fmt.Sprintf("tags @> to_jsonb($%d::text)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		clauses = append(clauses, fmt.Sprintf(`lower(coalesce(details,'') || coalesce(metadata::text,'') || actor_id || resource || coalesce(block_hash,'') || coalesce(patient_id,'')) LIKE $%d`, len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := auditSelectColumns + fmt.Sprintf(" FROM audit_log %s ORDER BY sequence DESC", where)
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PruneAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AuditLogSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.Pool.QueryRow(ctx, `SELECT pg_total_relation_size('audit_log')`).Scan(&size)
	return size, err
}

// RotateAuditLog for the relational backend moves every row except the
// newest one (highest sequence) into a timestamped archive table, leaving
// the retained tail entry, and so the chain's last integrityHash, untouched.
func (s *PostgresStore) RotateAuditLog(ctx context.Context, archiveSuffix string) error {
	archiveTable := fmt.Sprintf("audit_log_archive_%s", archiveSuffix)
	_, err := s.db.Pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (LIKE audit_log INCLUDING ALL)`, pgIdent(archiveTable)))
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM audit_log WHERE sequence < (SELECT COALESCE(MAX(sequence),0) FROM audit_log)
			RETURNING *
		)
		INSERT INTO %s SELECT * FROM moved
	`, pgIdent(archiveTable)))
	return err
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *PostgresStore) UpsertWallet(ctx context.Context, w model.WalletProfile) error {
	metaRaw, err := json.Marshal(w.Metadata)
	if err != nil {
		return err
	}
	rolesRaw, err := json.Marshal(w.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO wallets(id,address,normalized_address,family,label,public_key,metadata,roles,status,created_at,updated_at,last_seen_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (normalized_address) DO UPDATE SET
			label=COALESCE(NULLIF($5,''), wallets.label),
			public_key=COALESCE(NULLIF($6,''), wallets.public_key),
			metadata=$7, roles=$8, status=$9, updated_at=$11, last_seen_at=COALESCE($12, wallets.last_seen_at)
	`, w.ID, w.Address, w.NormalizedAddress, w.Family, w.Label, w.PublicKey, metaRaw, rolesRaw, w.Status, w.CreatedAt, w.UpdatedAt, w.LastSeenAt)
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, normalizedAddress string) (model.WalletProfile, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id,address,normalized_address,family,label,public_key,metadata,roles,status,created_at,updated_at,last_seen_at
		FROM wallets WHERE normalized_address=$1
	`, normalizedAddress)
	w, err := scanWallet(row)
	if err == pgx.ErrNoRows {
		return model.WalletProfile{}, ErrNotFound
	}
	return w, err
}

func scanWallet(row rowScanner) (model.WalletProfile, error) {
	var w model.WalletProfile
	var label, publicKey *string
	var metaRaw, rolesRaw []byte
	var lastSeen *time.Time
	if err := row.Scan(&w.ID, &w.Address, &w.NormalizedAddress, &w.Family, &label, &publicKey, &metaRaw, &rolesRaw,
		&w.Status, &w.CreatedAt, &w.UpdatedAt, &lastSeen); err != nil {
		return model.WalletProfile{}, err
	}
	w.Label = deref(label)
	w.PublicKey = deref(publicKey)
	w.Metadata = map[string]any{}
	_ = json.Unmarshal(metaRaw, &w.Metadata)
	_ = json.Unmarshal(rolesRaw, &w.Roles)
	w.LastSeenAt = lastSeen
	return w, nil
}

func (s *PostgresStore) TouchWallet(ctx context.Context, normalizedAddress string, at time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE wallets SET last_seen_at=$2, updated_at=$2 WHERE normalized_address=$1`, normalizedAddress, at)
	return err
}

func (s *PostgresStore) SetWalletStatus(ctx context.Context, normalizedAddress, status string) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE wallets SET status=$2, updated_at=now() WHERE normalized_address=$1`, normalizedAddress, status)
	return err
}

func (s *PostgresStore) CountWallets(ctx context.Context) (int, error) {
	var n int
	err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&n)
	return n, err
}

func (s *PostgresStore) PutNonce(ctx context.Context, n model.NonceRecord) error {
	var ctxRaw []byte
	if n.Context != nil {
		var err error
		ctxRaw, err = json.Marshal(n.Context)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO wallet_nonces(normalized_address,address,nonce,message,family,issued_at,expires_at,context)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (normalized_address) DO UPDATE SET
			address=$2, nonce=$3, message=$4, family=$5, issued_at=$6, expires_at=$7, context=$8
	`, n.NormalizedAddress, n.Address, n.Nonce, n.Message, n.Family, n.IssuedAt, n.ExpiresAt, ctxRaw)
	return err
}

func (s *PostgresStore) GetNonce(ctx context.Context, normalizedAddress string) (model.NonceRecord, error) {
	var n model.NonceRecord
	var ctxRaw []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT normalized_address,address,nonce,message,family,issued_at,expires_at,context FROM wallet_nonces WHERE normalized_address=$1
	`, normalizedAddress).Scan(&n.NormalizedAddress, &n.Address, &n.Nonce, &n.Message, &n.Family, &n.IssuedAt, &n.ExpiresAt, &ctxRaw)
	if err == pgx.ErrNoRows {
		return model.NonceRecord{}, ErrNotFound
	}
	if err != nil {
		return model.NonceRecord{}, err
	}
	if len(ctxRaw) > 0 {
		n.Context = map[string]any{}
		_ = json.Unmarshal(ctxRaw, &n.Context)
	}
	return n, nil
}

func (s *PostgresStore) DeleteNonce(ctx context.Context, normalizedAddress string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM wallet_nonces WHERE normalized_address=$1`, normalizedAddress)
	return err
}

func (s *PostgresStore) SweepExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM wallet_nonces WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) LoadProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT id,name,specialty FROM providers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Provider, 0)
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadPatients(ctx context.Context) ([]model.Patient, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT id,full_name,dob,COALESCE(primary_provider_id,'') FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Patient, 0)
	for rows.Next() {
		var p model.Patient
		if err := rows.Scan(&p.ID, &p.FullName, &p.DOB, &p.PrimaryProviderID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadValidators(ctx context.Context) ([]model.Validator, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT id,tier,reputation,blocks_proposed,uptime,COALESCE(last_seen, to_timestamp(0)) FROM validators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Validator, 0)
	for rows.Next() {
		var v model.Validator
		if err := rows.Scan(&v.ID, &v.Tier, &v.Reputation, &v.BlocksProposed, &v.Uptime, &v.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
