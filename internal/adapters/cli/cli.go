// Package cli - интерактивная консоль панели управления ботом.
// Сервис стартует фоном, читает команды из readline и вызывает операции контроллера
// сессии. Консоль ничего не запрашивает по сети сама: она только рисует Snapshot
// и передаёт действия оператора в контроллер. Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/samber/lo"

	"botpanel/internal/domain/panel"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/logger"
	"botpanel/internal/infra/pr"
	versioninfo "botpanel/internal/support/version"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors - реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "login", description: "Sign in to the bot backend"},
	{name: "logout", description: "Forget the saved session"},
	{name: "show", description: "Render the current screen"},
	{name: "status", description: "Show bot status"},
	{name: "history", description: "Show run history"},
	{name: "config", description: "Show the configuration draft"},
	{name: "set", description: "set <key> <value>: change one draft field"},
	{name: "channels", description: "Edit source channels, one per line, blank line ends"},
	{name: "save", description: "Submit the whole draft to the backend"},
	{name: "toggle", description: "Start or stop the bot"},
	{name: "reset", description: "Delete run history"},
	{name: "process", description: "Process channels now"},
	{name: "code", description: "code: request a bot login code; code <digits>: submit it"},
	{name: "refresh", description: "Reload everything from the backend (drops unsaved edits)"},
	{name: "export", description: "export <path>: write the draft as JSON"},
	{name: "dump", description: "Print the full panel state for debugging (secrets masked)"},
	{name: "weblink", description: "Print a one-time link to the web dashboard"},
	{name: "version", description: "Print panel version"},
	{name: "exit", description: "Stop CLI and terminate the panel"},
}

// Controller - операции контроллера сессии, которыми пользуется консоль.
type Controller interface {
	Snapshot() session.Snapshot
	Login(ctx context.Context, creds session.Credentials) error
	Logout()
	RefreshAll(ctx context.Context) error
	MutateConfigField(key string, value any) error
	SaveConfig(ctx context.Context, confirm session.ConfirmFunc) session.Notice
	ToggleBot(ctx context.Context) session.Notice
	ResetHistory(ctx context.Context, confirm session.ConfirmFunc) session.Notice
	TriggerProcess(ctx context.Context) session.Notice
	RequestLoginCode(ctx context.Context) error
	SubmitLoginCode(ctx context.Context, code string) error
	ExportDraft(path string) error
}

var _ Controller = (*session.Controller)(nil)

// LinkIssuer выдаёт одноразовую ссылку входа в веб-панель.
type LinkIssuer interface {
	IssueLink() (string, error)
}

// Options - параметры консоли.
type Options struct {
	// Username - имя по умолчанию в приглашении login.
	Username string
	// Location - таймзона для меток истории.
	Location *time.Location
	// CommandTimeout ограничивает одну сетевую команду; 0 - без ограничения.
	CommandTimeout time.Duration
}

// Service инкапсулирует CLI и интегрируется в жизненный цикл приложения.
type Service struct {
	ctrl      Controller
	links     LinkIssuer         // nil, если веб-панель выключена
	stopApp   context.CancelFunc // внешняя остановка приложения (exit, Ctrl-C на пустой строке)
	opts      Options
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт CLI-сервис.
func NewService(ctrl Controller, links LinkIssuer, stopApp context.CancelFunc, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{ctrl: ctrl, links: links, stopApp: stopApp, opts: opts}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения, прерывает readline,
// отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

const prompt = "> "

func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt(prompt)
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)
	renderView(pr.Stdout(), s.ctrl.Snapshot(), s.opts.Location)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		rl := pr.Rl()
		if rl == nil {
			return
		}
		line, err := rl.Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' - печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке - мягкая остановка приложения и прерывание readline;
//   - Ctrl-C на непустой строке - очистка текущей строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую строку и выполняет команду.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printCommandHelp()
	case "login":
		s.handleLogin(ctx)
	case "logout":
		s.ctrl.Logout()
		pr.Println("Logged out.")
	case "show":
		renderView(pr.Stdout(), s.ctrl.Snapshot(), s.opts.Location)
	case "status":
		if snap, ok := s.dashboard(); ok {
			renderStatus(pr.Stdout(), snap)
		}
	case "history":
		if snap, ok := s.dashboard(); ok {
			renderHistory(pr.Stdout(), snap.History, s.opts.Location)
		}
	case "config":
		if snap, ok := s.dashboard(); ok {
			renderConfig(pr.Stdout(), snap.Draft, snap.Dirty)
		}
	case "set":
		s.handleSet(line)
	case "channels":
		s.handleChannels()
	case "save":
		s.withTimeout(ctx, func(ctx context.Context) {
			printNotice(s.ctrl.SaveConfig(ctx, confirm))
		})
	case "toggle":
		s.withTimeout(ctx, func(ctx context.Context) {
			printNotice(s.ctrl.ToggleBot(ctx))
		})
	case "reset":
		s.withTimeout(ctx, func(ctx context.Context) {
			printNotice(s.ctrl.ResetHistory(ctx, confirm))
		})
	case "process":
		pr.Println("Processing channels...")
		s.withTimeout(ctx, func(ctx context.Context) {
			printNotice(s.ctrl.TriggerProcess(ctx))
		})
	case "code":
		s.handleCode(ctx, args)
	case "refresh":
		s.withTimeout(ctx, func(ctx context.Context) {
			if err := s.ctrl.RefreshAll(ctx); err != nil {
				pr.ErrPrintln("refresh error:", err)
				return
			}
			renderView(pr.Stdout(), s.ctrl.Snapshot(), s.opts.Location)
		})
	case "export":
		s.handleExport(args)
	case "dump":
		pr.PP(maskedSnapshot(s.ctrl.Snapshot()))
	case "weblink":
		s.handleWebLink()
	case "version":
		pr.Println(fmt.Sprintf("%s v%s", versioninfo.Name, versioninfo.Version))
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context)) {
	if s.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CommandTimeout)
		defer cancel()
	}
	fn(ctx)
}

// dashboard возвращает снимок, если оператор вошёл; иначе печатает подсказку.
func (s *Service) dashboard() (session.Snapshot, bool) {
	snap := s.ctrl.Snapshot()
	if snap.View == session.Unauthenticated {
		pr.Println(hintLogin)
		return snap, false
	}
	return snap, true
}

func (s *Service) handleLogin(ctx context.Context) {
	if s.ctrl.Snapshot().View != session.Unauthenticated {
		pr.Println("Already logged in. Use 'logout' first.")
		return
	}
	defer pr.SetPrompt(prompt)

	username, err := pr.ReadLine(fmt.Sprintf("Username [%s]: ", s.opts.Username))
	if err != nil {
		return
	}
	if username == "" {
		username = s.opts.Username
	}
	password, err := pr.ReadSecret("Password: ")
	if err != nil {
		return
	}

	s.withTimeout(ctx, func(ctx context.Context) {
		if err := s.ctrl.Login(ctx, session.Credentials{Username: username, Password: password}); err != nil {
			pr.ErrPrintln("Login failed:", err)
			return
		}
		pr.Println("Logged in.")
		renderView(pr.Stdout(), s.ctrl.Snapshot(), s.opts.Location)
	})
}

// handleSet разбирает "set <key> <value>". Значение берётся из строки как есть,
// внутренние пробелы сохраняются.
func (s *Service) handleSet(line string) {
	_, rest := cutWord(line)
	key, text := cutWord(rest)
	if key == "" {
		pr.Println("usage: set <key> <value>; keys:", strings.Join(fieldKeys(), ", "))
		return
	}
	field, ok := panel.LookupField(key)
	if !ok {
		pr.ErrPrintln("unknown field:", key)
		return
	}
	if field.Kind == panel.FieldList {
		// В одной строке каналы перечисляются через пробел.
		text = strings.Join(strings.Fields(text), "\n")
	}
	value, err := panel.ConvertFieldText(key, text)
	if err != nil {
		pr.ErrPrintln(err)
		return
	}
	if err := s.ctrl.MutateConfigField(key, value); err != nil {
		pr.ErrPrintln("set error:", err)
		return
	}
	pr.Printf("%s updated in draft. Use 'save' to submit.\n", field.Label)
}

func (s *Service) handleChannels() {
	snap, ok := s.dashboard()
	if !ok {
		return
	}
	if snap.Draft == nil {
		pr.ErrPrintln("set error:", session.ErrNoDraft)
		return
	}
	defer pr.SetPrompt(prompt)

	pr.Println("Current source channels:")
	for _, ch := range snap.Draft.SourceChannels {
		pr.Println("  " + ch)
	}
	pr.Println("Enter source channels, one per line. Empty line finishes.")

	var lines []string
	for {
		line, err := pr.ReadLine("channel> ")
		if err != nil {
			pr.Println("Cancelled.")
			return
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	channels := panel.ParseChannels(strings.Join(lines, "\n"))
	if err := s.ctrl.MutateConfigField(panel.KeySourceChannels, channels); err != nil {
		pr.ErrPrintln("set error:", err)
		return
	}
	pr.Printf("Source channels updated in draft (%d). Use 'save' to submit.\n", len(channels))
}

func (s *Service) handleCode(ctx context.Context, args []string) {
	s.withTimeout(ctx, func(ctx context.Context) {
		if len(args) == 0 {
			if err := s.ctrl.RequestLoginCode(ctx); err != nil {
				pr.ErrPrintln(s.flowErrorOr(err))
				return
			}
			pr.Println("Code requested. Enter it with: code <digits>")
			return
		}
		if err := s.ctrl.SubmitLoginCode(ctx, args[0]); err != nil {
			if errors.Is(err, session.ErrCodeNotRequested) {
				pr.Println("Request a code first with: code")
				return
			}
			pr.ErrPrintln(s.flowErrorOr(err))
			return
		}
		renderView(pr.Stdout(), s.ctrl.Snapshot(), s.opts.Location)
	})
}

// flowErrorOr возвращает текст ошибки шагов входа из снимка или саму ошибку.
func (s *Service) flowErrorOr(err error) string {
	if text := s.ctrl.Snapshot().FlowError; text != "" {
		return text
	}
	return err.Error()
}

func (s *Service) handleExport(args []string) {
	if len(args) != 1 {
		pr.Println("usage: export <path>")
		return
	}
	if err := s.ctrl.ExportDraft(args[0]); err != nil {
		pr.ErrPrintln("export error:", err)
		return
	}
	pr.Printf("Draft written to %s\n", args[0])
}

func (s *Service) handleWebLink() {
	if s.links == nil {
		pr.Println("Web dashboard is disabled (WEB_SERVER_ENABLE=false).")
		return
	}
	link, err := s.links.IssueLink()
	if err != nil {
		pr.ErrPrintln("weblink error:", err)
		return
	}
	pr.Println("One-time dashboard link:", link)
}

// confirm - подтверждение y/N в консоли. Ошибка ввода считается отказом.
func confirm(title, text string) bool {
	defer pr.SetPrompt(prompt)
	ok, err := pr.Confirm(title, text)
	return err == nil && ok
}

// printNotice печатает результат действия в рамке. Нулевой Notice - отказ оператора.
func printNotice(n session.Notice) {
	if n.IsZero() {
		pr.Println("Cancelled.")
		return
	}
	pr.Alert(noticeIcon(n.Level), n.Title, n.Text)
	if n.Err != nil {
		logger.Debugf("notice error: %v", n.Err)
	}
}

func noticeIcon(level session.Level) string {
	switch level {
	case session.LevelSuccess:
		return "OK"
	case session.LevelError:
		return "ERR"
	default:
		return "i"
	}
}

// cutWord отделяет первое слово строки от остатка; пробелы вокруг разделителя отбрасываются.
func cutWord(line string) (word, rest string) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// maskedSnapshot - копия состояния со скрытыми секретными полями черновика.
func maskedSnapshot(snap session.Snapshot) session.Snapshot {
	if snap.Draft == nil {
		return snap
	}
	draft := snap.Draft.Clone()
	for _, f := range panel.Fields {
		if f.Kind != panel.FieldSecret {
			continue
		}
		if v, err := draft.Value(f.Key); err == nil {
			if text, ok := v.(string); ok {
				_ = draft.Set(f.Key, maskSecret(text))
			}
		}
	}
	snap.Draft = &draft
	return snap
}

func fieldKeys() []string {
	return lo.Map(panel.Fields, func(f panel.Field, _ int) string { return f.Key })
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
