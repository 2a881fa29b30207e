package main

import "github.com/ValentinKolb/dCR/cmd"

func main() {
	cmd.Execute()
}
