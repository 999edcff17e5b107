// Package logx is tweetrelay's logging layer on top of zerolog.
//
// Console output is human readable, the optional log file is JSON, and
// warnings can be mirrored to an operator Telegram chat. Operator alerts are
// tagged with the account and the API operation that failed, and a failure
// that keeps repeating for the same account is reported once per window.
package logx
