package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for --field=key
)

// printResult outputs one object in the chosen format.
func printResult(w io.Writer, data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Fprintln(w, v)
			}
			return
		}
		for _, k := range sortedKeys(data) {
			fmt.Fprintf(w, "%s=%v\n", k, data[k])
		}
	default:
		printTable(w, data)
	}
}

func printTable(w io.Writer, data map[string]any) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(tw, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(tw, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(tw, "%s\t%s\n", k, joinAny(val))
		case nil:
			fmt.Fprintf(tw, "%s\t-\n", k)
		default:
			fmt.Fprintf(tw, "%s\t%v\n", k, val)
		}
	}
	tw.Flush()
}

// printPage renders a paginated response as rows with the given columns.
func printPage(w io.Writer, page map[string]any, columns ...string) {
	if outputFormat == "json" {
		printResult(w, page)
		return
	}
	items, _ := page["items"].([]any)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t")))
	for _, it := range items {
		row, _ := it.(map[string]any)
		cells := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := row[c]; ok && v != nil {
				cells[i] = fmt.Sprintf("%v", v)
			} else {
				cells[i] = "-"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	meta, _ := page["metadata"].(map[string]any)
	if total, ok := meta["totalCount"].(float64); ok {
		fmt.Fprintf(w, "\n%d of %d", len(items), int(total))
		if links, ok := meta["links"].(map[string]any); ok && links["next"] != nil {
			fmt.Fprint(w, " (more with --page)")
		}
		fmt.Fprintln(w)
	}
}

// printWarnings lists entries the server skipped.
func printWarnings(w io.Writer, result map[string]any) {
	warnings, _ := result["warnings"].([]any)
	for _, raw := range warnings {
		m, _ := raw.(map[string]any)
		fmt.Fprintf(w, "Warning: skipped entry %q: %v\n", m["raw"], m["reason"])
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}
