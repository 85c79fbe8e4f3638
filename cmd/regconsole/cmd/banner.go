package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ___          _    _               ___                  _     
 | _ \___ __ _(_)__| |_ _ _ _  _   / __|___ _ _  ___ ___| |___ 
 |   / -_) _` + "`" + ` | (_-<  _| '_| || | | (__/ _ \ ' \(_-</ _ \ / -_)
 |_|_\___\__, |_/__/\__|_|  \_, |  \___\___/_||_/__/\___/_\___|
         |___/              |__/                               
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Registry Admin Console - Version %s\x1b[0m\n\n", Version)
}
