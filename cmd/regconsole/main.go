package main

import "github.com/jmcleod/regconsole/cmd/regconsole/cmd"

func main() {
	cmd.Execute()
}
