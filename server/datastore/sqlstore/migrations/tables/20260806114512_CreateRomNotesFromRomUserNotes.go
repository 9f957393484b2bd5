package tables

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

func init() {
	addMigration(20260806114512, Up_20260806114512, Down_20260806114512)
}

// copyNotesToRomNotesStmt moves every per-ROM note out of rom_user. Rows
// without a markdown body have no note and are skipped. A NULL
// note_is_public becomes FALSE here, and stays FALSE after a rollback:
// rom_notes.is_public is NOT NULL, so the coercion is one-way. The legacy
// columns stay on rom_user; a later migration drops them once the release
// carrying this one has settled.
const copyNotesToRomNotesStmt = `
INSERT INTO rom_notes (rom_id, user_id, title, content, is_public, created_at, updated_at)
SELECT rom_id, user_id, '', note_raw_markdown, COALESCE(note_is_public, FALSE), created_at, updated_at
FROM rom_user
WHERE note_raw_markdown IS NOT NULL
`

func Up_20260806114512(ctx context.Context, tx *sql.Tx) error {
	d, err := detectDialect(ctx, tx)
	if err != nil {
		return err
	}

	var steps []migrationStep
	if d == dialectPostgres {
		steps = []migrationStep{
			basicMigrationStep(`
    CREATE TABLE rom_notes (
      id bigserial PRIMARY KEY,
      rom_id bigint NOT NULL,
      user_id bigint NOT NULL,
      title varchar(255) NOT NULL DEFAULT '',
      content text NOT NULL,
      is_public boolean NOT NULL DEFAULT FALSE,
      created_at timestamptz NOT NULL DEFAULT now(),
      updated_at timestamptz NOT NULL DEFAULT now()
    )
			`, "create rom_notes table"),
			basicMigrationStep(
				`CREATE INDEX idx_rom_notes_public ON rom_notes (is_public)`,
				"create idx_rom_notes_public index"),
			basicMigrationStep(
				`CREATE INDEX idx_rom_notes_rom_user ON rom_notes (rom_id, user_id)`,
				"create idx_rom_notes_rom_user index"),
			basicMigrationStep(
				`CREATE INDEX idx_rom_notes_title ON rom_notes (title)`,
				"create idx_rom_notes_title index"),
			// expression index over a bounded prefix, the PostgreSQL
			// equivalent of MySQL's content(191) prefix index
			basicMigrationStep(
				`CREATE INDEX idx_rom_notes_content ON rom_notes (left(content, 191))`,
				"create idx_rom_notes_content index"),
			basicMigrationStep(copyNotesToRomNotesStmt, "copy notes from rom_user"),
		}
	} else {
		steps = []migrationStep{
			basicMigrationStep(`
    CREATE TABLE rom_notes (
      id bigint(20) unsigned NOT NULL AUTO_INCREMENT,
      rom_id bigint(20) unsigned NOT NULL,
      user_id bigint(20) unsigned NOT NULL,
      title varchar(255) NOT NULL DEFAULT '',
      content text NOT NULL,
      is_public tinyint(1) NOT NULL DEFAULT FALSE,
      created_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
      updated_at timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,

      PRIMARY KEY (id),
      INDEX idx_rom_notes_public (is_public),
      INDEX idx_rom_notes_rom_user (rom_id, user_id),
      INDEX idx_rom_notes_title (title),
      INDEX idx_rom_notes_content (content(191))
    )
			`, "create rom_notes table"),
			basicMigrationStep(copyNotesToRomNotesStmt, "copy notes from rom_user"),
		}
	}

	return withSteps(ctx, tx, steps)
}

func Down_20260806114512(ctx context.Context, tx *sql.Tx) error {
	d, err := detectDialect(ctx, tx)
	if err != nil {
		return err
	}

	copyBack := `
UPDATE rom_user ru
INNER JOIN rom_notes rn ON rn.rom_id = ru.rom_id AND rn.user_id = ru.user_id
SET ru.note_raw_markdown = rn.content, ru.note_is_public = rn.is_public
`
	if d == dialectPostgres {
		copyBack = `
UPDATE rom_user
SET note_raw_markdown = rn.content, note_is_public = rn.is_public
FROM rom_notes rn
WHERE rn.rom_id = rom_user.rom_id AND rn.user_id = rom_user.user_id
`
	}

	steps := []migrationStep{
		restoreLegacyNoteColumns(d),
		basicMigrationStep(copyBack, "copy notes back to rom_user"),
		basicMigrationStep(`DROP TABLE rom_notes`, "drop rom_notes table"),
	}
	return withSteps(ctx, tx, steps)
}

// restoreLegacyNoteColumns re-adds the denormalized note columns when a
// prior migration dropped them, so the reverse copy always has a target.
func restoreLegacyNoteColumns(d sqlDialect) migrationStep {
	return func(ctx context.Context, tx *sql.Tx) error {
		boolType := "tinyint(1)"
		if d == dialectPostgres {
			boolType = "boolean"
		}
		if !columnExists(ctx, tx, d, "rom_user", "note_raw_markdown") {
			if _, err := tx.ExecContext(ctx,
				`ALTER TABLE rom_user ADD COLUMN note_raw_markdown text`,
			); err != nil {
				return errors.Wrap(err, "restore note_raw_markdown column")
			}
		}
		if !columnExists(ctx, tx, d, "rom_user", "note_is_public") {
			if _, err := tx.ExecContext(ctx,
				`ALTER TABLE rom_user ADD COLUMN note_is_public `+boolType+` DEFAULT NULL`,
			); err != nil {
				return errors.Wrap(err, "restore note_is_public column")
			}
		}
		return nil
	}
}
