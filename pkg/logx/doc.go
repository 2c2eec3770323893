// Package logx is airbot's logging facade over zerolog.
//
// Console output is human readable, the optional file sink is JSON, and an
// admin chat can receive warnings through a rate limited Telegram sink.
package logx
