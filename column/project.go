package column

// Project returns a copy of row holding only the columns in visible. Columns
// named in visible but absent from row are ignored. A nil visible set keeps
// every column. The input row is never modified.
func Project(row map[string]any, visible Set) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		if visible == nil || visible.Has(k) {
			out[k] = v
		}
	}
	return out
}

// ProjectAll applies Project to every row.
func ProjectAll(rows []map[string]any, visible Set) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = Project(r, visible)
	}
	return out
}

// Mask is the column outcome of an evaluation. A nil Visible means every
// column; Denied columns are removed in either case.
type Mask struct {
	Visible Set `json:"visible"`
	Denied  Set `json:"denied"`
}

// Allows reports whether col survives the mask.
func (m Mask) Allows(col string) bool {
	if m.Denied.Has(col) {
		return false
	}
	return m.Visible == nil || m.Visible.Has(col)
}

// Unrestricted reports whether the mask keeps every column.
func (m Mask) Unrestricted() bool { return m.Visible == nil && len(m.Denied) == 0 }

// Apply returns a copy of row without the masked columns.
func (m Mask) Apply(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		if m.Allows(k) {
			out[k] = v
		}
	}
	return out
}

// ApplyAll applies the mask to every row.
func (m Mask) ApplyAll(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = m.Apply(r)
	}
	return out
}

// Filter returns the members of cols that survive the mask, preserving
// order. Useful for building a select list.
func (m Mask) Filter(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if m.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}
