package main

import "pipejob/cmd"

func main() {
	cmd.Execute()
}
