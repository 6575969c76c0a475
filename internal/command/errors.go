package command

import "github.com/xenking/redis-server/internal/resp"

// Wire-exact error replies. These strings are part of the protocol surface
// and must never be reworded.
var (
	errSyntax              = resp.Err("ERR syntax error")
	errCommandNotSupported = resp.Err("ERR Command Not Supported")
	errDiscardWithoutMulti = resp.Err("ERR DISCARD without MULTI")
	errExecWithoutMulti    = resp.Err("ERR EXEC without MULTI")
	errXaddZero            = resp.Err("ERR The ID specified in XADD must be greater than 0-0")
	errXaddSmaller         = resp.Err("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	errNoEntriesInRange    = resp.Err("ERR The stream contains no entries in the range")
	errKeyDoesNotExist     = resp.Err("ERR The key specified does not exist!")
	errNotAnInteger        = resp.Err("ERR value is not an integer or out of range")
)

func errWrongArgs(cmd string) resp.Value {
	return resp.Err("ERR wrong number of arguments for '" + cmd + "' command")
}

func errNotValidType(cmd string) resp.Value {
	return resp.Err("ERR Not a valid type for the command '" + cmd + "'")
}

func errUnknownSubcommand(sub string) resp.Value {
	return resp.Err("ERR Unknown subcommand '" + sub + "'")
}
