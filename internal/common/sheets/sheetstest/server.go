// Package sheetstest provides an in-memory table service speaking the script
// endpoint protocol, for tests.
package sheetstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
)

// Call records one request received by the fake service.
type Call struct {
	Method string
	Action string
	Sheet  string
	Form   url.Values
}

type Server struct {
	*httptest.Server

	mu      sync.Mutex
	tables  map[string][][]interface{}
	calls   []Call
	rejects map[string]string
	down    map[string]bool
}

func NewServer() *Server {
	s := &Server{
		tables:  make(map[string][][]interface{}),
		rejects: make(map[string]string),
		down:    make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Layout builds sheet rows with five metadata rows, the header on row 6 and the
// given data rows below it.
func Layout(headers []string, rows ...[]string) [][]interface{} {
	out := make([][]interface{}, 0, 6+len(rows))
	for i := 0; i < 5; i++ {
		out = append(out, []interface{}{""})
	}
	out = append(out, toCells(headers))
	for _, r := range rows {
		out = append(out, toCells(r))
	}
	return out
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// SetTable replaces the contents of a table.
func (s *Server) SetTable(name string, rows [][]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = rows
}

// Table returns a copy of a table's rows.
func (s *Server) Table(name string) [][]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]interface{}, len(s.tables[name]))
	for i, r := range s.tables[name] {
		rows[i] = append([]interface{}(nil), r...)
	}
	return rows
}

// Reject makes every call of action answer success=false with message.
func (s *Server) Reject(action, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[action] = message
}

// Fail makes every call of action answer HTTP 502.
func (s *Server) Fail(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[action] = true
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor filters recorded calls by action and, when sheet is non-empty, table.
func (s *Server) CallsFor(action, sheet string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Action == action && (sheet == "" || c.Sheet == sheet) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var call Call
	call.Method = r.Method
	if r.Method == http.MethodGet {
		call.Action = r.URL.Query().Get("action")
		call.Sheet = r.URL.Query().Get("sheet")
		call.Form = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		call.Action = r.PostForm.Get("action")
		call.Sheet = r.PostForm.Get("sheetName")
		call.Form = r.PostForm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)

	if s.down[call.Action] {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if msg, ok := s.rejects[call.Action]; ok {
		writeJSON(w, map[string]interface{}{"success": false, "error": msg})
		return
	}

	switch call.Action {
	case "fetch":
		rows, ok := s.tables[call.Sheet]
		if !ok {
			writeJSON(w, map[string]interface{}{"success": false, "error": "Sheet not found: " + call.Sheet})
			return
		}
		writeJSON(w, map[string]interface{}{"success": true, "data": rows})

	case "insert":
		var row []interface{}
		if err := json.Unmarshal([]byte(call.Form.Get("rowData")), &row); err != nil {
			writeJSON(w, map[string]interface{}{"success": false, "error": "invalid rowData"})
			return
		}
		s.tables[call.Sheet] = append(s.tables[call.Sheet], row)
		writeJSON(w, map[string]interface{}{"success": true})

	case "updateCell":
		rowIndex, errRow := strconv.Atoi(call.Form.Get("rowIndex"))
		colIndex, errCol := strconv.Atoi(call.Form.Get("columnIndex"))
		rows := s.tables[call.Sheet]
		if errRow != nil || errCol != nil || rowIndex < 1 || rowIndex > len(rows) || colIndex < 1 {
			writeJSON(w, map[string]interface{}{"success": false, "error": "invalid cell"})
			return
		}
		row := rows[rowIndex-1]
		for len(row) < colIndex {
			row = append(row, "")
		}
		row[colIndex-1] = call.Form.Get("value")
		rows[rowIndex-1] = row
		writeJSON(w, map[string]interface{}{"success": true})

	case "uploadFile":
		writeJSON(w, map[string]interface{}{
			"success": true,
			"fileUrl": "https://drive.example.com/" + call.Form.Get("folderId") + "/" + url.PathEscape(call.Form.Get("fileName")),
		})

	default:
		writeJSON(w, map[string]interface{}{"success": false, "error": "Unknown action: " + call.Action})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
