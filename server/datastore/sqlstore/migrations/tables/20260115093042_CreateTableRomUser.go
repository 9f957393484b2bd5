package tables

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

func init() {
	addMigration(20260115093042, Up_20260115093042, Down_20260115093042)
}

func Up_20260115093042(ctx context.Context, tx *sql.Tx) error {
	d, err := detectDialect(ctx, tx)
	if err != nil {
		return err
	}

	romUserTable := `
    CREATE TABLE rom_user (
      id bigint(20) unsigned NOT NULL AUTO_INCREMENT,
      rom_id bigint(20) unsigned NOT NULL,
      user_id bigint(20) unsigned NOT NULL,
      rating tinyint unsigned DEFAULT NULL,
      note_raw_markdown text,
      note_is_public tinyint(1) DEFAULT NULL,
      created_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
      updated_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,

      PRIMARY KEY (id),
      UNIQUE KEY idx_rom_user_rom_user (rom_id, user_id)
    )
	`
	if d == dialectPostgres {
		romUserTable = `
    CREATE TABLE rom_user (
      id bigserial PRIMARY KEY,
      rom_id bigint NOT NULL,
      user_id bigint NOT NULL,
      rating smallint DEFAULT NULL,
      note_raw_markdown text,
      note_is_public boolean DEFAULT NULL,
      created_at timestamptz NOT NULL DEFAULT now(),
      updated_at timestamptz NOT NULL DEFAULT now(),

      CONSTRAINT idx_rom_user_rom_user UNIQUE (rom_id, user_id)
    )
		`
	}

	if _, err := tx.ExecContext(ctx, romUserTable); err != nil {
		return errors.Wrap(err, "create rom_user table")
	}
	return nil
}

func Down_20260115093042(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE rom_user`)
	return errors.Wrap(err, "drop rom_user table")
}
