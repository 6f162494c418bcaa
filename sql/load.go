package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed graph.sql
var graphSQL string

//go:embed passages.sql
var passagesSQL string

// Function lists for verification
var GraphFunctions = []string{
	"init_graph",
	"upsert_triple",
	"ensure_entity_vector_index",
	"attach_entity_vector",
	"select_entities_by_similarity",
	"expand_entity",
	"select_triples",
	"delete_entity",
	"delete_all_entities",
	"describe_graph",
}

var PassagesFunctions = []string{
	"init_passages",
	"ensure_collection",
	"collection_dimension",
	"upsert_passage",
	"search_passages",
	"select_passage",
	"sample_passages",
	"select_collections",
	"delete_collection",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadGraphSql loads the entity and relation SQL functions
func LoadGraphSql(db *sql.DB, force bool) error {
	return load(db, "graph", graphSQL, GraphFunctions, force)
}

// LoadPassagesSql loads the passage collection SQL functions
func LoadPassagesSql(db *sql.DB, force bool) error {
	return load(db, "passages", passagesSQL, PassagesFunctions, force)
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadGraphSql(db, force); err != nil {
		return err
	}

	if err := LoadPassagesSql(db, force); err != nil {
		return err
	}

	return nil
}

func load(db *sql.DB, name string, script string, functions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(script)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
