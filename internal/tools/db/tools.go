package db

import (
	"context"

	"github.com/arman-khosravi/tabletalk/internal/capability"
)

// Tools returns every database operation as a registerable tool.
func (a *Adapter) Tools() []capability.Tool {
	return []capability.Tool{
		&listTablesTool{a},
		&tableSchemaTool{a},
		&selectQueryTool{a},
		&sampleDataTool{a},
		&tableStatisticsTool{a},
		&relationshipsTool{a},
		&overviewTool{a},
	}
}

func tableNameSchema() map[string]interface{} {
	return capability.ObjectSchema(map[string]interface{}{
		"table_name": map[string]interface{}{
			"type":        "string",
			"description": "Name of the table",
		},
	}, "table_name")
}

func argString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

type listTablesTool struct{ adapter *Adapter }

func (t *listTablesTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "list_tables",
		Version:     "v1",
		Description: "List all tables in the connected database with a total count.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{}),
	}
}

func (t *listTablesTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	tables, err := t.adapter.ListTables(ctx)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatTableList(tables),
		Data:    map[string]interface{}{"tables": tables, "total_count": len(tables)},
	}, nil
}

type tableSchemaTool struct{ adapter *Adapter }

func (t *tableSchemaTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "get_table_schema",
		Version:     "v1",
		Description: "Get columns, primary/foreign keys and indexes for a table.",
		InputSchema: tableNameSchema(),
	}
}

func (t *tableSchemaTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	table := argString(args, "table_name")
	schema, err := t.adapter.TableSchemaFor(ctx, table)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatTableSchema(schema),
		Data: map[string]interface{}{
			"table_name":   schema.Name,
			"column_count": len(schema.Columns),
		},
	}, nil
}

type selectQueryTool struct{ adapter *Adapter }

func (t *selectQueryTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "execute_select_query",
		Version:     "v1",
		Description: "Execute a read-only SELECT query and return formatted results.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{
			"sql_query": map[string]interface{}{
				"type":        "string",
				"description": "The SELECT query to execute",
			},
		}, "sql_query"),
	}
}

func (t *selectQueryTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	query := argString(args, "sql_query")
	result, err := t.adapter.Query(ctx, query)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatQueryResult(query, result),
		Data: map[string]interface{}{
			"row_count": len(result.Rows),
			"columns":   result.Columns,
			"truncated": result.Truncated,
		},
	}, nil
}

type sampleDataTool struct{ adapter *Adapter }

func (t *sampleDataTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "get_sample_data",
		Version:     "v1",
		Description: "Fetch up to 20 sample rows from a table.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{
			"table_name": map[string]interface{}{
				"type":        "string",
				"description": "Name of the table",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum rows to return, default 5, clamped to 20",
			},
		}, "table_name"),
	}
}

func (t *sampleDataTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	table := argString(args, "table_name")
	limit := argInt(args, "limit", 5)
	result, err := t.adapter.SampleRows(ctx, table, limit)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatSampleData(table, result),
		Data: map[string]interface{}{
			"table_name": table,
			"row_count":  len(result.Rows),
		},
	}, nil
}

type tableStatisticsTool struct{ adapter *Adapter }

func (t *tableStatisticsTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "get_table_statistics",
		Version:     "v1",
		Description: "Report row count, key/index counts and column details for a table.",
		InputSchema: tableNameSchema(),
	}
}

func (t *tableStatisticsTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	table := argString(args, "table_name")
	schema, err := t.adapter.TableSchemaFor(ctx, table)
	if err != nil {
		return capability.Result{}, err
	}
	rowCount, countErr := t.adapter.RowCount(ctx, table)
	data := map[string]interface{}{
		"table_name":   schema.Name,
		"column_count": len(schema.Columns),
	}
	if countErr == nil {
		data["row_count"] = rowCount
	}
	return capability.Result{
		Content: formatStatistics(schema, rowCount, countErr),
		Data:    data,
	}, nil
}

type relationshipsTool struct{ adapter *Adapter }

func (t *relationshipsTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "analyze_table_relationships",
		Version:     "v1",
		Description: "Map foreign-key relationships and table connectivity across the database.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{}),
	}
}

func (t *relationshipsTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	schemas, err := t.adapter.Overview(ctx)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatRelationships(schemas),
		Data:    map[string]interface{}{"table_count": len(schemas)},
	}, nil
}

type overviewTool struct{ adapter *Adapter }

func (t *overviewTool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "get_database_overview",
		Version:     "v1",
		Description: "Summarize every table in the database: columns, primary keys, foreign keys.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{}),
	}
}

func (t *overviewTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	schemas, err := t.adapter.Overview(ctx)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Content: formatOverview(t.adapter.name, schemas),
		Data: map[string]interface{}{
			"database":    t.adapter.name,
			"table_count": len(schemas),
		},
	}, nil
}
