package main

import "marketflow/cmd"

func main() {
	cmd.Execute()
}
