// Command evalflow serves a set of demo endpoints over every exporter the
// configuration enables.
package main

func main() {
	Execute()
}
