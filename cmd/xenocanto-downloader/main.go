package main

import "go-xenocanto-download/cmd/xenocanto-downloader/cmd"

func main() {
	cmd.Execute()
}
