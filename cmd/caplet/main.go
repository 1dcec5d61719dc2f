// Command caplet is the capability-secured plugin runtime CLI.
package main

func main() {
	Execute()
}
