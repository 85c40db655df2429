package main

import "github.com/jmehdipour/sms-sequencer/cmd"

func main() {
	cmd.Execute()
}
