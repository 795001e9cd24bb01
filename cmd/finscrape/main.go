package main

import (
	"finscrape/cmd/finscrape/commands"
	"finscrape/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	commands.ExecuteContext(ctx)
}
