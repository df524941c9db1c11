package logging

import "context"

// NopLogger discards everything. Useful as a default and in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (l *NopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (l *NopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (l *NopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (l *NopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (l *NopLogger) With(args ...any) Logger                            { return l }
