package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level はログレベルを表す
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は文字列からログレベルを解析する（大文字小文字を区別しない）
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

const timeLayout = "2006-01-02 15:04:05.000"

// Logger はスレッドセーフなロガー
// レベル判定はロックを取らず、書き込みだけを直列化する
type Logger struct {
	level atomic.Int32

	mu  sync.Mutex
	out io.Writer
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	l := &Logger{out: out}
	l.level.Store(int32(minLevel))
	return l
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Level は現在のログレベルを返す
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Enabled は level のログが出力されるかを返す
func (l *Logger) Enabled(level Level) bool {
	return level >= l.Level()
}

// SetOutput は出力先を差し替える
func (l *Logger) SetOutput(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
}

// With は component を固定した Entry を返す
func (l *Logger) With(component string) *Entry {
	return &Entry{logger: l, component: component}
}

// log は1行を組み立ててから出力する
// component は空なら省略
func (l *Logger) log(level Level, component string, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(time.Now().Format(timeLayout))
	b.WriteString("] [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if component != "" {
		b.WriteByte('[')
		b.WriteString(component)
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(component string, format string, args ...any) {
	l.log(LevelDebug, component, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(component string, format string, args ...any) {
	l.log(LevelInfo, component, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(component string, format string, args ...any) {
	l.log(LevelWarn, component, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(component string, format string, args ...any) {
	l.log(LevelError, component, format, args...)
}

// Entry は component を束縛したロガー
// ワーカーごとに1つ作り、行ごとのタグ生成を省く
type Entry struct {
	logger    *Logger
	component string
}

// Component は束縛された component を返す
func (e *Entry) Component() string {
	return e.component
}

func (e *Entry) Debug(format string, args ...any) {
	e.logger.log(LevelDebug, e.component, format, args...)
}

func (e *Entry) Info(format string, args ...any) {
	e.logger.log(LevelInfo, e.component, format, args...)
}

func (e *Entry) Warn(format string, args ...any) {
	e.logger.log(LevelWarn, e.component, format, args...)
}

func (e *Entry) Error(format string, args ...any) {
	e.logger.log(LevelError, e.component, format, args...)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(component string, format string, args ...any) {
	Default.Debug(component, format, args...)
}

// Info は情報ログを出力する
func Info(component string, format string, args ...any) {
	Default.Info(component, format, args...)
}

// Warn は警告ログを出力する
func Warn(component string, format string, args ...any) {
	Default.Warn(component, format, args...)
}

// Error はエラーログを出力する
func Error(component string, format string, args ...any) {
	Default.Error(component, format, args...)
}
