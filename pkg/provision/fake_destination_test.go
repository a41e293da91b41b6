package provision

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// fakeDestination is an in-memory destination service covering the workspace,
// sheet, and row operations the loader exercises.
type fakeDestination struct {
	mu     sync.Mutex
	nextID int64

	workspaces map[int64]*fakeWorkspace
	sheets     map[int64]*fakeSheet

	workspaceCreates int
	requests         int

	server *httptest.Server
}

type fakeWorkspace struct {
	id     int64
	name   string
	sheets []int64
}

type fakeSheet struct {
	id          int64
	workspaceID int64
	name        string
	columns     []fakeColumn
	rows        []fakeRow
}

type fakeColumn struct {
	id      int64
	title   string
	kind    string
	primary bool
}

type fakeRow struct {
	id       int64
	parentID *int64
	cells    []fakeCell
}

type fakeCell struct {
	ColumnID int64       `json:"columnId"`
	Value    interface{} `json:"value"`
}

func newFakeDestination() *fakeDestination {
	d := &fakeDestination{
		nextID:     1000,
		workspaces: make(map[int64]*fakeWorkspace),
		sheets:     make(map[int64]*fakeSheet),
	}
	d.server = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

func (d *fakeDestination) Close() { d.server.Close() }

func (d *fakeDestination) URL() string { return d.server.URL }

func (d *fakeDestination) id() int64 {
	d.nextID++
	return d.nextID
}

// addWorkspace seeds a workspace with named (empty) sheets, bypassing the API
// surface.
func (d *fakeDestination) addWorkspace(name string, sheetNames ...string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := &fakeWorkspace{id: d.id(), name: name}
	for _, sn := range sheetNames {
		sheet := &fakeSheet{id: d.id(), workspaceID: ws.id, name: sn}
		d.sheets[sheet.id] = sheet
		ws.sheets = append(ws.sheets, sheet.id)
	}
	d.workspaces[ws.id] = ws
	return ws.id
}

func (d *fakeDestination) removeWorkspace(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workspaces, id)
}

func (d *fakeDestination) workspaceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workspaces)
}

func (d *fakeDestination) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func (d *fakeDestination) createCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workspaceCreates
}

// sheetByName finds one sheet of a workspace.
func (d *fakeDestination) sheetByName(workspaceID int64, name string) *fakeSheet {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		return nil
	}
	for _, sid := range ws.sheets {
		if sheet := d.sheets[sid]; sheet != nil && sheet.name == name {
			return sheet
		}
	}
	return nil
}

func (d *fakeDestination) handle(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "workspaces":
		d.listWorkspaces(w)
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "workspaces":
		d.createWorkspace(w, r)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "workspaces":
		d.getWorkspace(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "workspaces" && parts[2] == "sheets":
		d.createSheet(w, r, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "sheets":
		d.getSheet(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "sheets" && parts[2] == "rows":
		d.addRows(w, r, parts[1])
	case r.Method == http.MethodDelete && len(parts) == 3 && parts[0] == "sheets" && parts[2] == "rows":
		d.deleteRows(w, r, parts[1])
	default:
		http.Error(w, "no route", http.StatusNotFound)
	}
}

func (d *fakeDestination) listWorkspaces(w http.ResponseWriter) {
	data := make([]map[string]interface{}, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		data = append(data, map[string]interface{}{"id": ws.id, "name": ws.name})
	}
	writeJSON(w, map[string]interface{}{
		"pageNumber": 1,
		"totalPages": 1,
		"data":       data,
	})
}

func (d *fakeDestination) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.workspaceCreates++
	ws := &fakeWorkspace{id: d.id(), name: body.Name}
	d.workspaces[ws.id] = ws
	writeJSON(w, map[string]interface{}{
		"result": d.workspaceJSON(ws),
	})
}

func (d *fakeDestination) getWorkspace(w http.ResponseWriter, rawID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	ws := d.workspaces[id]
	if ws == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d.workspaceJSON(ws))
}

func (d *fakeDestination) workspaceJSON(ws *fakeWorkspace) map[string]interface{} {
	sheets := make([]map[string]interface{}, 0, len(ws.sheets))
	for _, sid := range ws.sheets {
		sheets = append(sheets, map[string]interface{}{
			"id":   sid,
			"name": d.sheets[sid].name,
		})
	}
	return map[string]interface{}{
		"id":        ws.id,
		"name":      ws.name,
		"permalink": fmt.Sprintf("https://fake/workspaces/%d", ws.id),
		"sheets":    sheets,
	}
}

func (d *fakeDestination) createSheet(w http.ResponseWriter, r *http.Request, rawWS string) {
	wsID, _ := strconv.ParseInt(rawWS, 10, 64)
	ws := d.workspaces[wsID]
	if ws == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var spec struct {
		Name    string `json:"name"`
		Columns []struct {
			Title   string `json:"title"`
			Type    string `json:"type"`
			Primary bool   `json:"primary"`
		} `json:"columns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sheet := &fakeSheet{id: d.id(), workspaceID: wsID, name: spec.Name}
	for _, col := range spec.Columns {
		sheet.columns = append(sheet.columns, fakeColumn{
			id:      d.id(),
			title:   col.Title,
			kind:    col.Type,
			primary: col.Primary,
		})
	}
	d.sheets[sheet.id] = sheet
	ws.sheets = append(ws.sheets, sheet.id)
	writeJSON(w, map[string]interface{}{"result": d.sheetJSON(sheet, false)})
}

func (d *fakeDestination) getSheet(w http.ResponseWriter, rawID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	sheet := d.sheets[id]
	if sheet == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d.sheetJSON(sheet, true))
}

func (d *fakeDestination) sheetJSON(sheet *fakeSheet, withRows bool) map[string]interface{} {
	columns := make([]map[string]interface{}, len(sheet.columns))
	for i, col := range sheet.columns {
		columns[i] = map[string]interface{}{
			"id":      col.id,
			"title":   col.title,
			"type":    col.kind,
			"primary": col.primary,
			"index":   i,
		}
	}
	out := map[string]interface{}{
		"id":      sheet.id,
		"name":    sheet.name,
		"columns": columns,
	}
	if withRows {
		rows := make([]map[string]interface{}, len(sheet.rows))
		for i, row := range sheet.rows {
			rows[i] = map[string]interface{}{
				"id":        row.id,
				"rowNumber": i + 1,
				"parentId":  row.parentID,
				"cells":     row.cells,
			}
		}
		out["rows"] = rows
	}
	return out
}

func (d *fakeDestination) addRows(w http.ResponseWriter, r *http.Request, rawID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	sheet := d.sheets[id]
	if sheet == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var wire []struct {
		ToBottom bool       `json:"toBottom"`
		ParentID *int64     `json:"parentId"`
		Cells    []fakeCell `json:"cells"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created := make([]map[string]interface{}, 0, len(wire))
	for _, in := range wire {
		if in.ParentID != nil && !d.hasRow(sheet, *in.ParentID) {
			http.Error(w, "parent row does not exist", http.StatusBadRequest)
			return
		}
		row := fakeRow{id: d.id(), parentID: in.ParentID, cells: in.Cells}
		sheet.rows = append(sheet.rows, row)
		created = append(created, map[string]interface{}{
			"id":        row.id,
			"rowNumber": len(sheet.rows),
			"parentId":  row.parentID,
		})
	}
	writeJSON(w, map[string]interface{}{"result": created})
}

func (d *fakeDestination) hasRow(sheet *fakeSheet, rowID int64) bool {
	for _, row := range sheet.rows {
		if row.id == rowID {
			return true
		}
	}
	return false
}

func (d *fakeDestination) deleteRows(w http.ResponseWriter, r *http.Request, rawID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	sheet := d.sheets[id]
	if sheet == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	drop := make(map[int64]bool)
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if rid, err := strconv.ParseInt(raw, 10, 64); err == nil {
			drop[rid] = true
		}
	}
	kept := sheet.rows[:0]
	for _, row := range sheet.rows {
		if !drop[row.id] {
			kept = append(kept, row)
		}
	}
	sheet.rows = kept
	writeJSON(w, map[string]interface{}{"message": "SUCCESS"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
