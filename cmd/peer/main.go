package main

import "github.com/rudransh-shrivastava/peer-share/internal/client/cmd"

func main() {
	cmd.Execute()
}
