// Package log provides the leveled logging interface used throughout
// the kbchat pipeline.
//
// Components accept any Logger; node failures in the conversation
// graph are logged here instead of propagating to the caller.
// GologLogger wraps github.com/kataras/golog and backs the package
// default, NoOpLogger silences a component.
//
//	glogger := golog.New()
//	glogger.SetPrefix("[kbchat] ")
//	logger := log.NewGologLogger(glogger)
//	logger.Info("pipeline ready")
//
// Code with no injected logger falls back to GetDefaultLogger.
package log
