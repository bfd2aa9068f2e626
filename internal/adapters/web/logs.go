package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"botpanel/internal/infra/logger"
	"botpanel/internal/infra/timeutil"

	"github.com/go-faster/errors"
)

// LogEntry представляет одну запись лога панели.
type LogEntry struct {
	Timestamp string
	Level     string
	Caller    string
	Message   string
}

// LevelClass возвращает CSS-класс для уровня записи.
func (e LogEntry) LevelClass() string {
	switch e.Level {
	case "ERROR":
		return "bg-red-50 text-red-800 border-l-4 border-red-500"
	case "WARN":
		return "bg-yellow-50 text-yellow-800 border-l-4 border-yellow-500"
	case "INFO":
		return "bg-blue-50 text-blue-800 border-l-4 border-blue-500"
	case "DEBUG":
		return "bg-gray-50 text-gray-600 border-l-4 border-gray-400"
	default:
		return "bg-gray-50 text-gray-800"
	}
}

// logsPageData - записи одной страницы и пагинация.
type logsPageData struct {
	Entries    []LogEntry
	Pagination paginationData
	Error      string
}

// paginationData - данные для пагинации.
type paginationData struct {
	CurrentPage int
	TotalPages  int
	ShowFirst   bool
	ShowPrev    bool
	ShowNext    bool
	ShowLast    bool
	Pages       []pageLink
}

// pageLink - ссылка на страницу.
type pageLink struct {
	Number     int
	IsCurrent  bool
	IsEllipsis bool
}

const (
	logsPageSize       = 200
	paginationMaxPages = 100
	maxLogFileSize     = 100 * 1024 * 1024
)

// handleLogsPage отображает страницу логов; записи подгружаются через /partials/logs.
func (s *Server) handleLogsPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{
		Title: "Logs",
		Page:  pageLogs,
		Snap:  s.ctrl.Snapshot(),
		Flash: s.popFlash(r),
	})
}

// handleLogsPartial возвращает страницу записей, новые сверху.
func (s *Server) handleLogsPartial(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	entries, totalPages, err := readLogs(s.opts.LogFile, page, logsPageSize, s.opts.Location)

	data := logsPageData{Entries: entries, Pagination: buildPagination(page, totalPages)}
	if err != nil {
		logger.Errorf("Failed to read logs: %v", err)
		data.Error = err.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.logsTmpl.ExecuteTemplate(w, "logs-container", data); err != nil {
		logger.Errorf("Failed to render logs template: %v", err)
	}
}

// parsePage извлекает номер страницы из запроса.
func parsePage(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return min(page, paginationMaxPages)
}

// readLogs читает NDJSON-лог и возвращает записи страницы page (новые сверху) и число страниц.
func readLogs(path string, page, pageSize int, loc *time.Location) ([]LogEntry, int, error) {
	if path == "" {
		return nil, 0, errors.New("log file not configured (LOG_FILE)")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "open log file")
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, 0, errors.Wrap(err, "stat log file")
	}
	if stat.Size() > maxLogFileSize {
		return nil, 0, errors.Errorf("log file too large: %d bytes (max %d), consider log rotation",
			stat.Size(), maxLogFileSize)
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "read log file")
	}
	slices.Reverse(lines)

	totalPages := (len(lines) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start >= len(lines) {
		return []LogEntry{}, totalPages, nil
	}
	end := min(start+pageSize, len(lines))

	entries := make([]LogEntry, 0, end-start)
	for _, line := range lines[start:end] {
		entries = append(entries, parseLogLine(line, loc))
	}
	return entries, totalPages, nil
}

// parseLogLine разбирает строку NDJSON-лога. Нераспознанная строка показывается как есть.
func parseLogLine(line string, loc *time.Location) LogEntry {
	var raw struct {
		Level  string `json:"level"`
		Time   string `json:"time"`
		Caller string `json:"caller"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{Level: "UNKNOWN", Message: line}
	}
	return LogEntry{
		Timestamp: timeutil.NormalizeLogTimestamp(raw.Time, loc),
		Level:     normalizeLevel(raw.Level),
		Caller:    raw.Caller,
		Message:   raw.Msg,
	}
}

// normalizeLevel приводит уровень к верхнему регистру.
func normalizeLevel(level string) string {
	switch level {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return level
	}
}

// buildPagination создаёт данные для пагинации.
func buildPagination(currentPage, totalPages int) paginationData {
	const window = 2 // количество страниц вокруг текущей

	p := paginationData{
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		ShowFirst:   currentPage > 1,
		ShowPrev:    currentPage > 1,
		ShowNext:    currentPage < totalPages,
		ShowLast:    currentPage < totalPages,
	}

	start := max(1, currentPage-window)
	end := min(totalPages, currentPage+window)
	if start > 1 {
		p.Pages = append(p.Pages, pageLink{IsEllipsis: true})
	}
	for i := start; i <= end; i++ {
		p.Pages = append(p.Pages, pageLink{Number: i, IsCurrent: i == currentPage})
	}
	if end < totalPages {
		p.Pages = append(p.Pages, pageLink{IsEllipsis: true})
	}
	return p
}
