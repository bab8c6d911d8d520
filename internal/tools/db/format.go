package db

import (
	"fmt"
	"strings"
)

const displayRowCap = 10

func formatTableList(tables []string) string {
	if len(tables) == 0 {
		return "No tables found in the database"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tables in the database:\n", len(tables))
	for i, table := range tables {
		fmt.Fprintf(&b, "%d. %s\n", i+1, table)
	}
	return strings.TrimSpace(b.String())
}

func formatTableSchema(schema TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema for table '%s':\n\n", schema.Name)
	fmt.Fprintf(&b, "Columns (%d):\n", len(schema.Columns))
	for _, col := range schema.Columns {
		nullable := "NOT NULL"
		if col.Nullable {
			nullable = "NULL"
		}
		pk := ""
		if col.PrimaryKey {
			pk = " [PK]"
		}
		fmt.Fprintf(&b, "  - %s: %s (%s)%s\n", col.Name, col.Type, nullable, pk)
		if col.Default != "" {
			fmt.Fprintf(&b, "    DEFAULT: %s\n", col.Default)
		}
	}
	if len(schema.ForeignKeys) > 0 {
		fmt.Fprintf(&b, "\nForeign Keys (%d):\n", len(schema.ForeignKeys))
		for _, fk := range schema.ForeignKeys {
			fmt.Fprintf(&b, "  - %s -> %s.%s\n",
				strings.Join(fk.Columns, ", "), fk.ReferredTable, strings.Join(fk.ReferredColumns, ", "))
		}
	}
	if len(schema.Indexes) > 0 {
		fmt.Fprintf(&b, "\nIndexes (%d):\n", len(schema.Indexes))
		for _, idx := range schema.Indexes {
			unique := ""
			if idx.Unique {
				unique = " (UNIQUE)"
			}
			fmt.Fprintf(&b, "  - %s: %s%s\n", idx.Name, strings.Join(idx.Columns, ", "), unique)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRows(b *strings.Builder, result QueryRows, limit int) {
	headers := strings.Join(result.Columns, " | ")
	fmt.Fprintf(b, "  %s\n", headers)
	fmt.Fprintf(b, "  %s\n", strings.Repeat("-", len(headers)))
	shown := result.Rows
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, row := range shown {
		fmt.Fprintf(b, "  %s\n", strings.Join(row, " | "))
	}
	if hidden := len(result.Rows) - len(shown); hidden > 0 {
		fmt.Fprintf(b, "  ... and %d more rows\n", hidden)
	}
}

func formatQueryResult(query string, result QueryRows) string {
	var b strings.Builder
	b.WriteString("Query executed successfully\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	if len(result.Rows) == 0 {
		b.WriteString("Results: 0 rows\n")
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "Results (%d rows):\n", len(result.Rows))
	formatRows(&b, result, displayRowCap)
	if result.Truncated {
		b.WriteString("  (result set truncated at the row cap)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSampleData(table string, result QueryRows) string {
	if len(result.Rows) == 0 {
		return fmt.Sprintf("No sample data found in table '%s'", table)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sample data from '%s' (%d rows):\n\n", table, len(result.Rows))
	formatRows(&b, result, 0)
	return strings.TrimRight(b.String(), "\n")
}

func formatStatistics(schema TableSchema, rowCount int64, countErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statistics for table '%s'\n", schema.Name)
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("-", len(schema.Name)+25))
	fmt.Fprintf(&b, "Column Count: %d\n", len(schema.Columns))
	fmt.Fprintf(&b, "Primary Keys: %d\n", len(schema.PrimaryKeys))
	fmt.Fprintf(&b, "Foreign Keys: %d\n", len(schema.ForeignKeys))
	fmt.Fprintf(&b, "Indexes: %d\n\n", len(schema.Indexes))
	if countErr != nil {
		fmt.Fprintf(&b, "Total Rows: unable to determine (%v)\n\n", countErr)
	} else {
		fmt.Fprintf(&b, "Total Rows: %d\n\n", rowCount)
	}
	b.WriteString("Column Details:\n")
	for _, col := range schema.Columns {
		fmt.Fprintf(&b, "  - %s:\n", col.Name)
		fmt.Fprintf(&b, "    Type: %s\n", col.Type)
		nullable := "No"
		if col.Nullable {
			nullable = "Yes"
		}
		fmt.Fprintf(&b, "    Nullable: %s\n", nullable)
		if col.Default != "" {
			fmt.Fprintf(&b, "    Default: %s\n", col.Default)
		}
		if col.PrimaryKey {
			b.WriteString("    Primary Key: Yes\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRelationships(schemas []TableSchema) string {
	if len(schemas) == 0 {
		return "No tables found in the database"
	}
	var b strings.Builder
	b.WriteString("Table Relationships Analysis\n")
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("-", 35))

	type relationship struct {
		from, fromCols, to, toCols string
	}
	var relationships []relationship
	connected := map[string]bool{}
	for _, schema := range schemas {
		for _, fk := range schema.ForeignKeys {
			relationships = append(relationships, relationship{
				from:     schema.Name,
				fromCols: strings.Join(fk.Columns, ", "),
				to:       fk.ReferredTable,
				toCols:   strings.Join(fk.ReferredColumns, ", "),
			})
			connected[schema.Name] = true
			connected[fk.ReferredTable] = true
		}
	}

	if len(relationships) == 0 {
		b.WriteString("No foreign key relationships found.\n")
	} else {
		fmt.Fprintf(&b, "Found %d foreign key relationships:\n\n", len(relationships))
		for _, rel := range relationships {
			fmt.Fprintf(&b, "  - %s.%s -> %s.%s\n", rel.from, rel.fromCols, rel.to, rel.toCols)
		}
	}

	b.WriteString("\nTable Connectivity:\n")
	var connectedNames, isolatedNames []string
	for _, schema := range schemas {
		if connected[schema.Name] {
			connectedNames = append(connectedNames, schema.Name)
		} else {
			isolatedNames = append(isolatedNames, schema.Name)
		}
	}
	if len(connectedNames) > 0 {
		fmt.Fprintf(&b, "  - Connected tables (%d): %s\n", len(connectedNames), strings.Join(connectedNames, ", "))
	}
	if len(isolatedNames) > 0 {
		fmt.Fprintf(&b, "  - Isolated tables (%d): %s\n", len(isolatedNames), strings.Join(isolatedNames, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOverview(database string, schemas []TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database Overview: '%s'\n", database)
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("-", len(database)+20))
	fmt.Fprintf(&b, "Total Tables: %d\n\n", len(schemas))
	if len(schemas) > 0 {
		b.WriteString("Tables Summary:\n")
		for _, schema := range schemas {
			fmt.Fprintf(&b, "  - %s: %d columns", schema.Name, len(schema.Columns))
			if len(schema.PrimaryKeys) > 0 {
				fmt.Fprintf(&b, ", PK: %s", strings.Join(schema.PrimaryKeys, ", "))
			}
			if len(schema.ForeignKeys) > 0 {
				fmt.Fprintf(&b, ", %d FK(s)", len(schema.ForeignKeys))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
