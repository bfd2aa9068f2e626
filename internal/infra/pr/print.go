// Package pr - слой вывода и диалогов для интерактивной консоли панели.
// Инициализирует readline с отменяемым stdin, переназначает stdout/stderr на его буферы
// и заменяет модальные окна браузерной панели: Confirm (вопрос y/N), Alert (уведомление
// в рамке) и ReadSecret (ввод пароля без эха).
package pr

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/go-faster/errors"
	"github.com/kr/pretty"
	"golang.org/x/term"
)

var (
	// rl - активный readline. nil до Init(): тогда диалоги читают из in.
	rl *readline.Instance
	// in - источник строк, пока readline не поднят (и в тестах).
	in     io.Reader = os.Stdin
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
	// mu защищает замену writer'ов и cancelableIn, но не сами записи.
	mu sync.Mutex

	cancelableIn interface{ Close() error }
)

// ErrNoInput возвращается диалогами, когда ввод закрыт (EOF, Ctrl-D, shutdown).
var ErrNoInput = errors.New("pr: input closed")

// Init поднимает readline поверх отменяемого stdin и переводит вывод в его буферы.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs, InterruptPrompt: "^C"})
	if err != nil {
		_ = cs.Close()
		return errors.Wrap(err, "init readline")
	}

	mu.Lock()
	rl = newRl
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	return nil
}

// SetIO подменяет ввод и вывод. Используется в тестах адаптеров без терминала.
func SetIO(input io.Reader, stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	in = input
	out = stdout
	errOut = stderr
}

// InterruptReadline закрывает cancelable stdin: Readline() вернёт io.EOF.
func InterruptReadline() {
	mu.Lock()
	c := cancelableIn
	mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// SetPrompt задаёт приглашение; без readline - no-op.
func SetPrompt(prompt string) {
	if r := Rl(); r != nil {
		r.SetPrompt(prompt)
	}
}

// Rl возвращает текущий readline (nil, если Init() не вызывался).
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

func Print(a ...any) { fmt.Fprint(Stdout(), a...) }

func Println(a ...any) { fmt.Fprintln(Stdout(), a...) }

func Printf(format string, a ...any) { fmt.Fprintf(Stdout(), format, a...) }

func ErrPrintln(a ...any) { fmt.Fprintln(Stderr(), a...) }

func ErrPrintf(format string, a ...any) { fmt.Fprintf(Stderr(), format, a...) }

// PP pretty-печатает значение (команда dump).
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// ReadLine печатает приглашение и читает одну строку, обрезая пробелы по краям.
// При активном readline приглашение восстанавливается на prompt основного цикла вызывающим.
func ReadLine(prompt string) (string, error) {
	if r := Rl(); r != nil {
		r.SetPrompt(prompt)
		line, err := r.Readline()
		if err != nil {
			return "", ErrNoInput
		}
		return strings.TrimSpace(line), nil
	}

	Print(prompt)
	line, err := readRawLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readRawLine читает из in побайтно до '\n', чтобы не забирать у следующего вызова лишние данные.
func readRawLine() (string, error) {
	mu.Lock()
	src := in
	mu.Unlock()

	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return sb.String(), nil
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", ErrNoInput
		}
	}
}

// ReadSecret читает строку без эха (пароль). Если stdin не терминал, читает обычную строку.
func ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if Rl() == nil || !term.IsTerminal(fd) {
		return ReadLine(prompt)
	}
	Print(prompt)
	secret, err := term.ReadPassword(fd)
	Println()
	if err != nil {
		return "", errors.Wrap(err, "read secret")
	}
	return string(secret), nil
}

// Confirm задаёт вопрос с ответом y/N. Любой ответ, кроме y/yes, - отказ.
func Confirm(title, text string) (bool, error) {
	Printf("? %s\n  %s\n", title, text)
	answer, err := ReadLine("  Proceed? (y/N): ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Alert печатает уведомление в рамке. icon - короткая метка уровня ("OK", "ERR", "i").
func Alert(icon, title, text string) {
	width := max(len(title), len(text)) + 8
	border := strings.Repeat("─", width)
	Printf("┌%s┐\n", border)
	Printf("│ [%s] %s\n", icon, title)
	if text != "" {
		Printf("│      %s\n", text)
	}
	Printf("└%s┘\n", border)
}
