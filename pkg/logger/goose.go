package logger

// GooseLogger adapts Logger to the goose migration logger interface.
type GooseLogger struct {
	Logger Logger
}

// NewGooseLogger returns a migration logger tagged with the "migrations" component.
func NewGooseLogger(l Logger) *GooseLogger {
	if l == nil {
		l = GetGlobalLogger()
	}
	return &GooseLogger{Logger: l.WithComponent("migrations")}
}

func (g *GooseLogger) Printf(format string, v ...interface{}) {
	g.Logger.Debugf(format, v...)
}

func (g *GooseLogger) Fatalf(format string, v ...interface{}) {
	g.Logger.Fatalf(format, v...)
}
