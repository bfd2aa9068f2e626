// Package session - контроллер сессии и синхронизации панели.
//
// Controller единолично владеет сетевым вводом-выводом панели:
//   - хранит токен оператора (TokenStore) и подставляет его в запросы через panelapi;
//   - при ответе 401 стирает токен и переводит панель на экран входа;
//   - держит модели отображения (статус, черновик конфигурации, история, вход бот-аккаунта)
//     и обновляет их по таймеру и после действий оператора;
//   - отдаёт адаптерам (консоль, веб) неизменяемые Snapshot.
//
// Поздние ответы после выхода, 401 или Dispose отбрасываются по «эпохе»: счётчик
// увеличивается при каждой смене сессии, результат применяется только при совпадении.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"botpanel/internal/adapters/panelapi"
	"botpanel/internal/domain/panel"
	"botpanel/internal/infra/concurrency"
	"botpanel/internal/infra/logger"
	"botpanel/internal/infra/storage"
)

// DefaultPollInterval - период фонового обновления статуса и истории.
const DefaultPollInterval = 30 * time.Second

// followUpTimeout ограничивает обновление после действия оператора. Оно идёт
// на собственном контексте: отмена или дедлайн действия его не обрывают.
const followUpTimeout = 30 * time.Second

// refreshSet - набор ресурсов для обновления.
type refreshSet uint8

const (
	refreshStatus refreshSet = 1 << iota
	refreshConfig
	refreshHistory
	refreshLogin
	// refreshFromPoll - тик опроса: успешный статус снимает и ошибку конфигурации.
	refreshFromPoll

	refreshAll = refreshStatus | refreshConfig | refreshHistory | refreshLogin
)

// Options - параметры контроллера.
type Options struct {
	// PollInterval - период опроса; 0 - DefaultPollInterval.
	PollInterval time.Duration
	// OnExpired вызывается после того, как сессия сброшена ответом 401.
	OnExpired func()
}

// Controller - контроллер сессии. Потокобезопасен.
type Controller struct {
	api       API
	store     storage.TokenStore
	interval  time.Duration
	onExpired func()
	poller    *concurrency.Periodic

	mu          sync.Mutex
	baseCtx     context.Context
	disposed    bool
	token       string
	epoch       uint64
	status      *panel.BotStatus
	draft       *panel.Configuration
	serverRaw   []byte
	dirty       bool
	history     []panel.HistoryEntry
	loginState  panel.LoginState
	flow        LoginFlow
	flowError   string
	statusErr   string
	configErr   string
	loading     bool
	lastRefresh time.Time
}

// New создаёт контроллер. api обычно *panelapi.Client, чьи Token/OnUnauthorized
// подключены к Token и HandleUnauthorized этого контроллера (см. Wire).
func New(api API, store storage.TokenStore, opts Options) *Controller {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Controller{
		api:        api,
		store:      store,
		interval:   interval,
		onExpired:  opts.OnExpired,
		poller:     concurrency.NewPeriodic("status-history"),
		baseCtx:    context.Background(),
		loginState: panel.LoginUnknown,
	}
}

// Wire создаёт panelapi.Client, связанный с контроллером, и сам контроллер.
// Клиент берёт токен из контроллера и сообщает ему о 401.
func Wire(apiOpts panelapi.Options, store storage.TokenStore, opts Options) (*Controller, *panelapi.Client) {
	var ctrl *Controller
	apiOpts.Token = func() string { return ctrl.Token() }
	apiOpts.OnUnauthorized = func(token string) { ctrl.HandleUnauthorized(token) }
	client := panelapi.New(apiOpts)
	ctrl = New(client, store, opts)
	return ctrl, client
}

// Token возвращает текущий токен ("" - не авторизован).
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Start восстанавливает сохранённую сессию. При наличии токена ведёт себя как успешный
// вход (обновление всего и запуск опроса), но без повторного /api/auth. ctx ограничивает
// жизнь фонового опроса.
func (c *Controller) Start(ctx context.Context) error {
	token, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "load session token")
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.baseCtx = ctx
	if token == "" {
		c.mu.Unlock()
		logger.Info("No saved session; waiting for operator login")
		return nil
	}
	c.beginSessionLocked(token)
	c.mu.Unlock()

	logger.Info("Saved session restored")
	if err := c.RefreshAll(ctx); err != nil {
		return err
	}
	c.startPolling()
	return nil
}

// Login проверяет учётные данные через /api/auth, сохраняет токен, загружает все
// данные и запускает опрос. При ошибке состояние остаётся неавторизованным.
func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	token := panelapi.BasicToken(creds.Username, creds.Password)
	if _, err := c.api.Auth(ctx, token); err != nil {
		if errors.Is(err, panelapi.ErrUnauthorized) {
			return ErrInvalidCredentials
		}
		return errors.Wrap(err, "authenticate")
	}
	if err := c.store.Save(token); err != nil {
		return errors.Wrap(err, "save session token")
	}

	// Прежний опрос (если был) останавливаем до смены эпохи.
	c.poller.Stop()

	c.mu.Lock()
	c.beginSessionLocked(token)
	c.mu.Unlock()
	logger.Info("Operator logged in", zap.String("username", creds.Username))

	if err := c.RefreshAll(ctx); err != nil {
		return err
	}
	c.startPolling()
	return nil
}

// Logout стирает токен и возвращает панель к форме входа.
func (c *Controller) Logout() {
	c.poller.Stop()
	c.mu.Lock()
	had := c.token != ""
	c.endSessionLocked()
	c.mu.Unlock()
	if err := c.store.Clear(); err != nil {
		logger.Warn("Failed to clear session token", zap.Error(err))
	}
	if had {
		logger.Info("Operator logged out")
	}
}

// HandleUnauthorized сбрасывает сессию после 401. token - токен, которым был подписан
// запрос: ответ на запрос старой сессии не трогает новую. Вызывается из тика опроса,
// поэтому опрос отменяется без ожидания.
func (c *Controller) HandleUnauthorized(token string) {
	c.mu.Lock()
	if token == "" || c.token != token {
		c.mu.Unlock()
		return
	}
	c.endSessionLocked()
	c.mu.Unlock()

	c.poller.Cancel()
	if err := c.store.Clear(); err != nil {
		logger.Warn("Failed to clear session token", zap.Error(err))
	}
	logger.Warn("Session expired (HTTP 401); login required")
	if c.onExpired != nil {
		c.onExpired()
	}
}

// Dispose останавливает опрос и ждёт текущий тик. После возврата запросов больше нет,
// а поздние ответы не применяются.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.epoch++
	c.mu.Unlock()
	c.poller.Stop()
}

// ScheduleRefresh запускает периодическое обновление статуса и истории. Пока сессии нет,
// тики пропускаются. Возвращённая функция останавливает таймер и ждёт текущий тик.
func (c *Controller) ScheduleRefresh(interval time.Duration) (cancel func()) {
	c.mu.Lock()
	ctx := c.baseCtx
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return func() {}
	}
	c.poller.Start(ctx, interval, c.pollTick)
	return c.poller.Stop
}

func (c *Controller) startPolling() {
	c.ScheduleRefresh(c.interval)
}

func (c *Controller) pollTick(ctx context.Context) {
	c.mu.Lock()
	token, epoch := c.token, c.epoch
	c.mu.Unlock()
	if token == "" {
		return
	}
	c.refresh(ctx, epoch, refreshStatus|refreshHistory|refreshFromPoll)
}

// RefreshAll параллельно загружает состояние входа бот-аккаунта, статус, конфигурацию
// и историю. Ошибки одного запроса не прерывают остальные. Возвращает ErrNotAuthenticated,
// если сессии нет или она истекла во время обновления.
func (c *Controller) RefreshAll(ctx context.Context) error {
	c.mu.Lock()
	token, epoch := c.token, c.epoch
	c.mu.Unlock()
	if token == "" {
		return ErrNotAuthenticated
	}
	c.refresh(ctx, epoch, refreshAll)
	if c.Token() == "" {
		return ErrNotAuthenticated
	}
	return nil
}

// refresh выполняет выбранные запросы параллельно и применяет результаты под эпохой epoch.
func (c *Controller) refresh(ctx context.Context, epoch uint64, set refreshSet) {
	var g errgroup.Group
	if set&refreshLogin != 0 {
		g.Go(func() error { c.fetchLoginState(ctx, epoch); return nil })
	}
	if set&refreshStatus != 0 {
		g.Go(func() error { c.fetchStatus(ctx, epoch, set&refreshFromPoll != 0); return nil })
	}
	if set&refreshConfig != 0 {
		g.Go(func() error { c.fetchConfig(ctx, epoch); return nil })
	}
	if set&refreshHistory != 0 {
		g.Go(func() error { c.fetchHistory(ctx, epoch); return nil })
	}
	_ = g.Wait()

	c.mu.Lock()
	if c.epoch == epoch {
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()
}

// followUp обновляет set после действия оператора. Контекст действия даёт только значения:
// отмена запроса оператора не должна оставлять панель с устаревшим статусом.
func (c *Controller) followUp(ctx context.Context, epoch uint64, set refreshSet) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()
	c.refresh(ctx, epoch, set)
}

// apply выполняет fn под мьютексом, если эпоха не сменилась. Возвращает false для устаревших ответов.
func (c *Controller) apply(epoch uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.token == "" {
		return false
	}
	fn()
	return true
}

func (c *Controller) fetchStatus(ctx context.Context, epoch uint64, fromPoll bool) {
	st, err := c.api.Status(ctx)
	if err != nil {
		logFetchError(ctx, "status", err)
		if !isCanceled(ctx, err) {
			c.apply(epoch, func() { c.statusErr = textStatusFailed })
		}
		return
	}
	c.apply(epoch, func() {
		c.status = &st
		c.statusErr = ""
		if fromPoll {
			c.configErr = ""
		}
	})
}

func (c *Controller) fetchConfig(ctx context.Context, epoch uint64) {
	cfg, raw, err := c.api.Config(ctx)
	if err != nil {
		logFetchError(ctx, "configuration", err)
		c.apply(epoch, func() {
			if !isCanceled(ctx, err) {
				c.configErr = textConfigFailed
			}
			c.loading = false
		})
		return
	}
	c.apply(epoch, func() {
		c.draft = &cfg
		c.serverRaw = raw
		c.dirty = false
		c.configErr = ""
		c.loading = false
	})
}

func (c *Controller) fetchHistory(ctx context.Context, epoch uint64) {
	items, err := c.api.History(ctx)
	if err != nil {
		logFetchError(ctx, "history", err)
		return
	}
	c.apply(epoch, func() { c.history = items })
}

func (c *Controller) fetchLoginState(ctx context.Context, epoch uint64) {
	state, err := c.api.BotStatus(ctx)
	if err != nil {
		logFetchError(ctx, "bot login state", err)
		return
	}
	c.apply(epoch, func() { c.loginState = state })
}

// isCanceled - запрос оборван контекстом вызывающего, а не отказом бэкенда.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func logFetchError(ctx context.Context, what string, err error) {
	if errors.Is(err, panelapi.ErrUnauthorized) || errors.Is(err, panelapi.ErrNoToken) || isCanceled(ctx, err) {
		logger.Debug("fetch skipped", zap.String("resource", what), zap.Error(err))
		return
	}
	logger.Warn("fetch failed", zap.String("resource", what), zap.Error(err))
}

// MutateConfigField записывает одно поле черновика. Сети не касается.
func (c *Controller) MutateConfigField(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return ErrNotAuthenticated
	}
	if c.draft == nil {
		return ErrNoDraft
	}
	next := c.draft.Clone()
	if err := next.Set(key, value); err != nil {
		return err
	}
	c.draft = &next
	c.dirty = true
	return nil
}

// SaveConfig после подтверждения отправляет черновик целиком в POST /api/config/bulk.
// Неизменённый черновик уходит теми же байтами, что пришли с сервера. При ошибке черновик
// не трогается и обновления нет.
func (c *Controller) SaveConfig(ctx context.Context, confirm ConfirmFunc) Notice {
	if confirm != nil && !confirm(ConfirmSaveTitle, ConfirmSaveText) {
		return Notice{}
	}

	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return errorNotice(textSaveFailed, ErrNotAuthenticated)
	}
	if c.draft == nil {
		c.mu.Unlock()
		return errorNotice(textSaveFailed, ErrNoDraft)
	}
	epoch := c.epoch
	body := c.serverRaw
	if c.dirty || len(body) == 0 {
		var err error
		if body, err = json.Marshal(c.draft); err != nil {
			c.mu.Unlock()
			return errorNotice(textSaveFailed, errors.Wrap(err, "encode configuration"))
		}
	}
	c.mu.Unlock()

	resp, err := c.api.SaveConfig(ctx, body)
	if err != nil {
		logger.Warn("Save configuration failed", zap.Error(err))
		return errorNotice(textSaveFailed, err)
	}
	c.followUp(ctx, epoch, refreshStatus|refreshConfig)
	return Notice{Level: LevelSuccess, Title: titleSuccess, Text: resp.Message}
}

// ToggleBot переключает активность бота и обновляет статус, конфигурацию и историю.
func (c *Controller) ToggleBot(ctx context.Context) Notice {
	epoch, ok := c.currentEpoch()
	if !ok {
		return errorNotice(textToggleFailed, ErrNotAuthenticated)
	}
	resp, err := c.api.Toggle(ctx)
	if err != nil {
		logger.Warn("Toggle bot failed", zap.Error(err))
		return errorNotice(textToggleFailed, err)
	}
	c.followUp(ctx, epoch, refreshStatus|refreshConfig|refreshHistory)
	return Notice{Level: LevelSuccess, Title: titleSuccess, Text: resp.Message}
}

// ResetHistory после подтверждения очищает историю запусков на сервере.
func (c *Controller) ResetHistory(ctx context.Context, confirm ConfirmFunc) Notice {
	if confirm != nil && !confirm(ConfirmResetTitle, ConfirmResetText) {
		return Notice{}
	}
	epoch, ok := c.currentEpoch()
	if !ok {
		return errorNotice(textResetFailed, ErrNotAuthenticated)
	}
	resp, err := c.api.Reset(ctx)
	if err != nil {
		logger.Warn("Reset history failed", zap.Error(err))
		return errorNotice(textResetFailed, err)
	}
	c.followUp(ctx, epoch, refreshStatus|refreshHistory)
	return Notice{Level: LevelSuccess, Title: titleSuccess, Text: resp.Message}
}

// TriggerProcess запускает внеочередной прогон каналов. Статус обновляется в любом случае.
func (c *Controller) TriggerProcess(ctx context.Context) Notice {
	epoch, ok := c.currentEpoch()
	if !ok {
		return errorNotice(textProcessFailed, ErrNotAuthenticated)
	}
	c.setLoading(epoch, true)
	resp, err := c.api.Process(ctx)
	c.setLoading(epoch, false)
	defer c.followUp(ctx, epoch, refreshStatus)
	if err != nil {
		logger.Warn("Process channels failed", zap.Error(err))
		return errorNotice(textProcessFailed, err)
	}
	return Notice{Level: LevelInfo, Title: titleInfo, Text: resp.Message}
}

// RequestLoginCode просит бэкенд отправить код входа бот-аккаунта.
func (c *Controller) RequestLoginCode(ctx context.Context) error {
	epoch, ok := c.currentEpoch()
	if !ok {
		return ErrNotAuthenticated
	}
	if _, err := c.api.RequestLoginCode(ctx); err != nil {
		logger.Warn("Request login code failed", zap.Error(err))
		c.apply(epoch, func() { c.flowError = textLoginStart })
		return errors.Wrap(err, textLoginStart)
	}
	c.apply(epoch, func() {
		c.flow = FlowCodeRequested
		c.flowError = ""
	})
	return nil
}

// SubmitLoginCode отправляет код. При успехе перечитывает состояние входа бот-аккаунта
// (при logged_in открывается дашборд) и сбрасывает шаги входа.
func (c *Controller) SubmitLoginCode(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if c.flow != FlowCodeRequested {
		c.mu.Unlock()
		return ErrCodeNotRequested
	}
	epoch := c.epoch
	c.mu.Unlock()

	if _, err := c.api.SubmitLoginCode(ctx, code); err != nil {
		text := textLoginFailed
		var reqErr *panelapi.RequestError
		if errors.As(err, &reqErr) && reqErr.Detail != "" {
			text = reqErr.Detail
		}
		logger.Warn("Submit login code failed", zap.Error(err))
		c.apply(epoch, func() { c.flowError = text })
		return errors.Wrap(err, text)
	}
	c.followUp(ctx, epoch, refreshLogin)
	c.apply(epoch, func() {
		c.flow = FlowIdle
		c.flowError = ""
	})
	return nil
}

// ExportDraft пишет текущий черновик в файл как JSON с отступами (атомарно, права 0600).
func (c *Controller) ExportDraft(path string) error {
	c.mu.Lock()
	if c.draft == nil {
		c.mu.Unlock()
		return ErrNoDraft
	}
	draft := c.draft.Clone()
	c.mu.Unlock()

	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode configuration")
	}
	return storage.AtomicWriteFile(path, append(data, '\n'))
}

// Snapshot возвращает копию состояния для отрисовки.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		View:        c.viewLocked(),
		Dirty:       c.dirty,
		LoginState:  c.loginState,
		Flow:        c.flow,
		FlowError:   c.flowError,
		Loading:     c.loading,
		LastRefresh: c.lastRefresh,
	}
	if c.status != nil {
		st := *c.status
		snap.Status = &st
	}
	if c.draft != nil {
		d := c.draft.Clone()
		snap.Draft = &d
	}
	if c.history != nil {
		snap.History = append([]panel.HistoryEntry{}, c.history...)
	}
	switch {
	case c.statusErr != "":
		snap.Error = c.statusErr
	case c.configErr != "":
		snap.Error = c.configErr
	}
	return snap
}

func (c *Controller) viewLocked() ViewState {
	switch {
	case c.token == "":
		return Unauthenticated
	case c.loginState == panel.LoginLoggedIn:
		return LoginComplete
	default:
		return LoginPending
	}
}

// beginSessionLocked ставит новый токен и начинает новую эпоху с чистым состоянием.
func (c *Controller) beginSessionLocked(token string) {
	c.resetLocked()
	c.token = token
	c.loading = true
}

// endSessionLocked стирает токен и всё, что было загружено под ним.
func (c *Controller) endSessionLocked() {
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.epoch++
	c.token = ""
	c.status = nil
	c.draft = nil
	c.serverRaw = nil
	c.dirty = false
	c.history = nil
	c.loginState = panel.LoginUnknown
	c.flow = FlowIdle
	c.flowError = ""
	c.statusErr = ""
	c.configErr = ""
	c.loading = false
}

func (c *Controller) currentEpoch() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, c.token != ""
}

func (c *Controller) setLoading(epoch uint64, v bool) {
	c.apply(epoch, func() { c.loading = v })
}

func (c *Controller) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func errorNotice(text string, err error) Notice {
	return Notice{Level: LevelError, Title: titleError, Text: text, Err: err}
}
