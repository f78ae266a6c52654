package main

import "github.com/michaeldinzinger/url-frontier/cmd"

func main() {
	cmd.Execute()
}
