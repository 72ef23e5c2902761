// The main package for the jobsai executable.
package main

import "github.com/jonidaniel/jobsai/cmd"

func main() {
	cmd.Execute()
}
