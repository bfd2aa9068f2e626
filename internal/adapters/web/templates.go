package web

import (
	"html/template"
	"strings"

	"botpanel/internal/domain/panel"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/timeutil"

	"github.com/samber/lo"
)

// CodeRequested сообщает, что код входа бот-аккаунта уже запрошен.
func (d pageData) CodeRequested() bool {
	return d.Snap.Flow == session.FlowCodeRequested
}

// loadTemplates загружает HTML шаблоны
func (s *Server) loadTemplates() {
	funcs := template.FuncMap{
		"formatTime": func(v string) string { return timeutil.FormatBackendTime(v, s.opts.Location) },
		"lines": func(v string) []string {
			return lo.Compact(lo.Map(strings.Split(v, "\n"), func(l string, _ int) string { return strings.TrimSpace(l) }))
		},
		"isActive":     func(st *panel.BotStatus) bool { return st != nil && st.Status == panel.BotActive },
		"confirmSave":  func() string { return session.ConfirmSaveText },
		"confirmReset": func() string { return session.ConfirmResetText },
	}

	s.tmpl = template.Must(template.New("").Funcs(funcs).Parse(layoutTemplate))
	for _, text := range []string{
		signInTemplate,
		botLoginTemplate,
		dashboardTemplate,
		statusCardTemplate,
		historyCardTemplate,
		logsTemplate,
	} {
		template.Must(s.tmpl.Parse(text))
	}

	// Шаблоны для логов с helper функциями
	s.logsTmpl = template.Must(template.New("").Funcs(logsFuncs).Parse(logsEntryTemplate))
	template.Must(s.logsTmpl.Parse(logsPaginationTemplate))
	template.Must(s.logsTmpl.Parse(logsContainerTemplate))
}

var logsFuncs = template.FuncMap{
	"sub": func(a, b int) int { return a - b },
	"add": func(a, b int) int { return a + b },
}

// layoutTemplate - базовый layout с навигацией и баннером уведомлений
const layoutTemplate = `{{define "layout"}}
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Bot Panel</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <script src="https://unpkg.com/htmx.org@1.9.10"></script>
    <style>
        .badge { padding: 0.15rem 0.6rem; border-radius: 9999px; font-size: 0.75rem; font-weight: 600; }
        .badge-active { background: #dcfce7; color: #166534; }
        .badge-inactive { background: #fee2e2; color: #991b1b; }
        .badge-unknown { background: #e5e7eb; color: #374151; }
        .hist-success { color: #16a34a; }
        .hist-error, .hist-unknown { color: #dc2626; }
        .hist-info { color: #2563eb; }
    </style>
</head>
<body class="bg-gray-50">
    <nav class="bg-white shadow-lg">
        <div class="max-w-7xl mx-auto px-4">
            <div class="flex justify-between h-16">
                <div class="flex space-x-8">
                    <div class="flex items-center">
                        <span class="text-xl font-bold text-blue-600">Bot Panel</span>
                    </div>
                    {{if ne .Page "signin"}}
                    <div class="hidden md:flex items-center space-x-4">
                        <a href="/" class="px-3 py-2 rounded-md text-sm font-medium {{if ne .Page "logs"}}bg-blue-100 text-blue-700{{else}}text-gray-700 hover:bg-gray-100{{end}}">Dashboard</a>
                        <a href="/logs" class="px-3 py-2 rounded-md text-sm font-medium {{if eq .Page "logs"}}bg-blue-100 text-blue-700{{else}}text-gray-700 hover:bg-gray-100{{end}}">Logs</a>
                    </div>
                    {{end}}
                </div>
                {{if ne .Page "signin"}}
                <div class="flex items-center">
                    <form method="post" action="/logout">
                        <button type="submit" class="text-sm text-gray-600 hover:text-gray-900">Log out</button>
                    </form>
                </div>
                {{end}}
            </div>
        </div>
    </nav>

    <main class="max-w-7xl mx-auto px-4 py-6">
        {{with .Flash}}
        <div id="flash" class="mb-6 border-l-4 rounded p-4 {{.Class}}">
            <p class="font-semibold">{{.Title}}</p>
            {{if .Text}}<p class="text-sm mt-1">{{.Text}}</p>{{end}}
        </div>
        {{end}}
        {{if eq .Page "signin"}}{{template "signin" .}}{{end}}
        {{if eq .Page "botlogin"}}{{template "botlogin" .}}{{end}}
        {{if eq .Page "dashboard"}}{{template "dashboard" .}}{{end}}
        {{if eq .Page "logs"}}{{template "logs" .}}{{end}}
    </main>
</body>
</html>
{{end}}`

// signInTemplate - форма входа оператора
const signInTemplate = `{{define "signin"}}
<div class="min-h-[60vh] flex items-center justify-center">
    <div class="bg-white rounded-lg shadow-lg p-8 max-w-md w-full">
        <h1 class="text-2xl font-bold text-gray-900 text-center">Sign in</h1>
        <form method="post" action="/login" class="mt-6 space-y-4">
            <input name="username" placeholder="Username" autocomplete="username" required
                   class="w-full border rounded px-3 py-2">
            <input name="password" type="password" placeholder="Password" autocomplete="current-password"
                   class="w-full border rounded px-3 py-2">
            {{if .LoginError}}<p id="login-error" class="text-sm text-red-600">{{.LoginError}}</p>{{end}}
            <button type="submit" class="w-full bg-blue-600 hover:bg-blue-700 text-white px-4 py-2 rounded">Sign in</button>
        </form>
        <p class="mt-6 text-sm text-gray-500">
            Or run <code class="bg-gray-100 px-2 py-1 rounded">weblink</code> in the console to get a one-time link.
        </p>
    </div>
</div>
{{end}}`

// botLoginTemplate - вход бот-аккаунта в Telegram по коду
const botLoginTemplate = `{{define "botlogin"}}
<div class="max-w-md mx-auto bg-white rounded-lg shadow-md p-8 space-y-4">
    <h1 class="text-2xl font-bold text-gray-900">Bot account</h1>
    {{$b := .Snap.LoginState.Badge}}
    <p>Telegram session: <span class="badge {{if eq .Snap.LoginState "logged_in"}}badge-active{{else}}badge-inactive{{end}}">{{$b.Label}}</span></p>
    {{if .CodeRequested}}
    <form method="post" action="/bot-login/code" class="space-y-3">
        <label class="block text-sm text-gray-700" for="code">Enter the code sent to the bot's phone</label>
        <input id="code" name="code" inputmode="numeric" autocomplete="one-time-code" required
               class="w-full border rounded px-3 py-2">
        <button type="submit" class="w-full bg-blue-600 hover:bg-blue-700 text-white px-4 py-2 rounded">Submit code</button>
    </form>
    {{else}}
    <p class="text-gray-600">The bot is not logged in to Telegram.</p>
    <form method="post" action="/bot-login/request">
        <button type="submit" class="w-full bg-blue-600 hover:bg-blue-700 text-white px-4 py-2 rounded">Send login code</button>
    </form>
    {{end}}
    {{if .Snap.FlowError}}<p id="flow-error" class="text-sm text-red-600">{{.Snap.FlowError}}</p>{{end}}
</div>
{{end}}`

// dashboardTemplate - главная страница: статус, управление, настройки, история
const dashboardTemplate = `{{define "dashboard"}}
<div class="space-y-6">
    <h1 class="text-3xl font-bold text-gray-900">Dashboard</h1>
    {{if .Snap.Loading}}<p class="text-gray-500">Loading...</p>{{end}}
    {{if .Snap.Error}}<p id="dashboard-error" class="text-red-600">{{.Snap.Error}}</p>{{end}}

    <div class="grid grid-cols-1 md:grid-cols-2 gap-6">
        {{template "status-card" .Snap}}

        <div class="bg-white rounded-lg shadow-md p-6 space-y-3">
            <h2 class="text-xl font-bold">Controls</h2>
            <button type="button" hx-post="/toggle"
                class="w-full {{if isActive .Snap.Status}}bg-red-600 hover:bg-red-700{{else}}bg-green-600 hover:bg-green-700{{end}} text-white px-4 py-2 rounded transition">
                {{if isActive .Snap.Status}}Stop bot{{else}}Start bot{{end}}
            </button>
            <button type="button" hx-post="/process" hx-indicator="#process-indicator"
                class="w-full bg-purple-600 hover:bg-purple-700 text-white px-4 py-2 rounded transition">
                Process now
            </button>
            <p id="process-indicator" class="htmx-indicator text-sm text-gray-500">Processing...</p>
        </div>

        <div class="bg-white rounded-lg shadow-md p-6 md:col-span-2">
            <h2 class="text-xl font-bold mb-4">Settings{{if .Snap.Dirty}} <span class="text-sm text-orange-600">(unsaved changes)</span>{{end}}</h2>
            {{if .Fields}}
            <form id="config-form" method="post" action="/config" class="grid grid-cols-1 md:grid-cols-2 gap-4">
                {{range .Fields}}
                <label class="block">
                    <span class="text-sm font-medium text-gray-700">{{.Label}}{{if .Unit}} ({{.Unit}}){{end}}</span>
                    {{if eq .InputType "checkbox"}}
                    <input type="checkbox" name="{{.Key}}" value="on" {{if .Checked}}checked{{end}} class="ml-2">
                    {{else if eq .InputType "textarea"}}
                    <textarea name="{{.Key}}" rows="4" class="mt-1 w-full border rounded px-3 py-2 font-mono">{{.Text}}</textarea>
                    {{else}}
                    <input type="{{.InputType}}" name="{{.Key}}" value="{{.Text}}" class="mt-1 w-full border rounded px-3 py-2">
                    {{end}}
                </label>
                {{end}}
                <div class="md:col-span-2 flex gap-3">
                    <button type="button" hx-post="/config" hx-confirm="{{confirmSave}}"
                        class="bg-blue-600 hover:bg-blue-700 text-white px-4 py-2 rounded transition">Save settings</button>
                    <button type="button" hx-post="/config/discard"
                        class="bg-gray-200 hover:bg-gray-300 px-4 py-2 rounded transition">Discard changes</button>
                </div>
            </form>
            {{else}}
            <p class="text-gray-500">Settings are not loaded.</p>
            {{end}}
        </div>

        {{template "history-card" .Snap}}
    </div>
</div>
{{end}}`

// statusCardTemplate - карточка статуса, обновляется каждые 30 секунд
const statusCardTemplate = `{{define "status-card"}}
<div id="status-card" class="bg-white rounded-lg shadow-md p-6"
     hx-get="/partials/status" hx-trigger="every 30s" hx-swap="outerHTML">
    <h2 class="text-xl font-bold mb-4">Bot status</h2>
    {{with .Status}}
    {{$b := .Status.Badge}}
    <span class="badge {{$b.Class}}">{{$b.Label}}</span>
    <div class="mt-3 space-y-1 text-sm text-gray-700">
        {{range lines .Message}}<p>{{.}}</p>{{end}}
    </div>
    {{else}}
    <p class="text-gray-500">Status unknown.</p>
    {{end}}
</div>
{{end}}`

// historyCardTemplate - лента запусков, обновляется каждые 30 секунд
const historyCardTemplate = `{{define "history-card"}}
<div id="history-card" class="bg-white rounded-lg shadow-md p-6 md:col-span-2"
     hx-get="/partials/history" hx-trigger="every 30s" hx-swap="outerHTML">
    <div class="flex justify-between items-center mb-4">
        <h2 class="text-xl font-bold">Run history</h2>
        <button type="button" hx-post="/reset" hx-confirm="{{confirmReset}}"
            class="bg-red-100 hover:bg-red-200 text-red-700 text-sm px-3 py-1 rounded transition">Reset database</button>
    </div>
    {{if .History}}
    <ul class="space-y-1 text-sm">
        {{range .History}}
        {{$i := .Status.Icon}}
        <li><span class="{{$i.Class}}">{{$i.Symbol}}</span> <span class="text-gray-400">{{formatTime .CreatedAt}}</span> {{.Message}}</li>
        {{end}}
    </ul>
    {{else}}
    <p class="text-gray-500">No runs yet.</p>
    {{end}}
</div>
{{end}}`

// logsTemplate - страница просмотра логов панели
const logsTemplate = `{{define "logs"}}
<div class="space-y-6">
    <h1 class="text-3xl font-bold text-gray-900">Logs</h1>
    <div class="bg-white rounded-lg shadow-md p-6">
        <div id="logs-container" class="font-mono text-sm space-y-1"
             hx-get="/partials/logs?page=1" hx-trigger="load" hx-swap="innerHTML">
            <p class="text-gray-500">Loading logs...</p>
        </div>
    </div>
</div>
{{end}}`

// logsEntryTemplate - шаблон для одной записи лога
const logsEntryTemplate = `{{define "log-entry"}}
<div class="text-xs p-1 rounded {{.LevelClass}}">
	<span class="text-gray-400">[{{.Timestamp}}]</span>
	<span class="font-semibold">[{{.Level}}]</span>
	<span class="text-gray-500">[{{.Caller}}]</span>
	<span>{{.Message}}</span>
</div>
{{end}}`

// logsPaginationTemplate - шаблон для пагинации
const logsPaginationTemplate = `{{define "pagination"}}
{{if gt .TotalPages 1}}
<div class="mt-6 flex justify-center items-center space-x-2">
	{{if .ShowFirst}}
	<a href="#" hx-get="/partials/logs?page=1" hx-target="#logs-container" hx-swap="innerHTML"
	   class="px-3 py-1 rounded bg-gray-200 hover:bg-gray-300">&lt;&lt;</a>
	{{end}}
	{{if .ShowPrev}}
	<a href="#" hx-get="/partials/logs?page={{sub .CurrentPage 1}}" hx-target="#logs-container" hx-swap="innerHTML"
	   class="px-3 py-1 rounded bg-gray-200 hover:bg-gray-300">&lt;</a>
	{{end}}
	{{range .Pages}}
		{{if .IsEllipsis}}
			<span class="px-2">...</span>
		{{else if .IsCurrent}}
			<span class="px-3 py-1 rounded bg-blue-600 text-white">{{.Number}}</span>
		{{else}}
			<a href="#" hx-get="/partials/logs?page={{.Number}}" hx-target="#logs-container" hx-swap="innerHTML"
			   class="px-3 py-1 rounded bg-gray-200 hover:bg-gray-300">{{.Number}}</a>
		{{end}}
	{{end}}
	{{if .ShowNext}}
	<a href="#" hx-get="/partials/logs?page={{add .CurrentPage 1}}" hx-target="#logs-container" hx-swap="innerHTML"
	   class="px-3 py-1 rounded bg-gray-200 hover:bg-gray-300">&gt;</a>
	{{end}}
	{{if .ShowLast}}
	<a href="#" hx-get="/partials/logs?page={{.TotalPages}}" hx-target="#logs-container" hx-swap="innerHTML"
	   class="px-3 py-1 rounded bg-gray-200 hover:bg-gray-300">&gt;&gt;</a>
	{{end}}
</div>
{{end}}
{{end}}`

// logsContainerTemplate - шаблон для контейнера логов
const logsContainerTemplate = `{{define "logs-container"}}
{{if .Error}}
<p class="text-red-600">Error reading logs: {{.Error}}</p>
{{else if not .Entries}}
<p class="text-gray-500">No logs available</p>
{{else}}
<div class="space-y-1">
{{range .Entries}}
	{{template "log-entry" .}}
{{end}}
</div>
{{template "pagination" .Pagination}}
{{end}}
{{end}}`
