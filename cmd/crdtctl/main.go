// cmd/crdtctl/main.go
//
// crdtctl is an operator CLI for inspecting and verifying crdtdoc
// save files: inspect prints a document's summary, verify re-derives
// its hash graph and reports inconsistencies, and export-sqlite dumps
// the map properties of every object into a SQLite table for ad hoc
// querying.
//
// Usage:
//
//	crdtctl inspect <file>
//	crdtctl verify <file>
//	crdtctl export-sqlite <file> <db-path>
package main

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"crdtdoc/internal/telemetry"
	"crdtdoc/pkg/docstore"
)

func main() {
	var logLevel string
	log := telemetry.Noop()

	rootCmd := &cobra.Command{
		Use:   "crdtctl",
		Short: "Inspect and verify crdtdoc save files",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = telemetry.New(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	inspectCmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print a save file's head/op/actor summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadFile(log, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ops:     %d\n", len(d.Ops))
			fmt.Printf("actors:  %d\n", len(d.Actors.List()))
			fmt.Printf("changes: %d\n", len(docstore.GetChanges(d, nil)))
			fmt.Println("heads:")
			for _, h := range docstore.GetHeads(d) {
				fmt.Printf("  %s\n", hex.EncodeToString(h[:]))
			}
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Reload a save file and confirm its change history re-derives the same heads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadFile(log, args[0])
			if err != nil {
				return err
			}
			resaved := docstore.Save(d)
			reloaded, err := docstore.Load(resaved)
			if err != nil {
				return fmt.Errorf("re-deriving from a fresh save: %w", err)
			}
			if len(reloaded.Ops) != len(d.Ops) {
				return fmt.Errorf("op count drifted across a save/load cycle: %d vs %d", len(d.Ops), len(reloaded.Ops))
			}
			origHeads, newHeads := docstore.GetHeads(d), docstore.GetHeads(reloaded)
			if len(origHeads) != len(newHeads) {
				return fmt.Errorf("head count drifted across a save/load cycle: %d vs %d", len(origHeads), len(newHeads))
			}
			for i := range origHeads {
				if origHeads[i] != newHeads[i] {
					return fmt.Errorf("head %d drifted: %x vs %x", i, origHeads[i], newHeads[i])
				}
			}
			fmt.Println("ok")
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export-sqlite <file> <db-path>",
		Short: "Export the map properties of every object into a SQLite table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadFile(log, args[0])
			if err != nil {
				return err
			}
			return exportSQLite(d, args[1])
		},
	}

	rootCmd.AddCommand(inspectCmd, verifyCmd, exportCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadFile(log *telemetry.Logger, path string) (docstore.Doc, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("reading %s: %w", path, err)
	}
	d, err := docstore.Load(buf)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return docstore.WithLogger(d, log), nil
}

func exportSQLite(d docstore.Doc, dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS props (
		object TEXT NOT NULL,
		key TEXT NOT NULL,
		op_id TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (object, key, op_id)
	)`); err != nil {
		return fmt.Errorf("creating props table: %w", err)
	}

	p := docstore.GetPatch(d)
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for objKey, obj := range p.Objects {
		for propKey, vals := range obj.Props {
			for opKey, v := range vals {
				if _, err := tx.Exec(`INSERT OR REPLACE INTO props (object, key, op_id, value) VALUES (?, ?, ?, ?)`,
					objKey, propKey, opKey, fmt.Sprintf("%v", v)); err != nil {
					tx.Rollback()
					return fmt.Errorf("inserting %s.%s: %w", objKey, propKey, err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	fmt.Printf("exported %d objects to %s\n", len(p.Objects), dbPath)
	return nil
}
