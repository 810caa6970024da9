package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
)

// setupTestStore creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	db, err := openDSN(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db)
}

// seedDirectory inserts organization O1 with salons S1 and S2, service SV1 in
// S1 and SV2 in S2.
func seedDirectory(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	stmts := []string{
		`INSERT INTO organizations (id, name, slug) VALUES ('O1', 'Estudio Uno', 'estudio-uno'), ('O2', 'Otra', 'otra')`,
		`INSERT INTO salons (id, org_id, name, address, phone) VALUES
			('S1', 'O1', 'Centro', 'Av. Siempreviva 742', '+54 11 5555-0000'),
			('S2', 'O1', 'Norte', '', ''),
			('S9', 'O2', 'Ajeno', '', '')`,
		`INSERT INTO salon_services (id, org_id, salon_id, name, price, currency, duration_minutes) VALUES
			('SV1', 'O1', 'S1', 'Corte', '1000.00', 'ARS', 45),
			('SV2', 'O1', 'S2', 'Color', '2500.50', 'ARS', 90)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Writer.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed directory: %v", err)
		}
	}
}
