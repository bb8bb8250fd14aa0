// Command ircsession-demo connects a single irc-session Session to a
// server and prints every inbound line and the final outcome, modeled on
// gissleh-irc's cmd/ircrepl demo.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ircsession "github.com/matt0x6f/irc-session"
)

var (
	flagServer = flag.String("server", "localhost", "Server hostname")
	flagPort   = flag.Uint("port", 6667, "Server port")
	flagNick   = flag.String("nick", "ircsession", "Primary nickname")
	flagAlts   = flag.String("alts", "ircsession_,ircsession__", "Comma-separated fallback nicknames")
	flagUser   = flag.String("user", "ircsession", "Username sent in USER")
	flagReal   = flag.String("realname", "irc-session demo", "Realname sent in USER")
	flagPass   = flag.String("pass", "", "Server PASS")
)

func main() {
	flag.Parse()

	nicknames := append([]string{*flagNick}, splitNonEmpty(*flagAlts)...)

	session := ircsession.New(ircsession.Config{
		Server:    *flagServer,
		Port:      uint16(*flagPort),
		Nicknames: nicknames,
		Username:  *flagUser,
		Realname:  *flagReal,
		Password:  *flagPass,
	})

	session.OnData = func(line string) {
		fmt.Println(line)
	}
	session.OnError = func(err error) {
		log.Println("error:", err)
	}
	session.OnClose = func() {
		log.Println("connection closed")
	}

	outcome, err := session.Connect()
	if err != nil {
		log.Fatalf("connect: %s", err)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		_ = session.End()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := outcome.Wait(ctx)
	if err != nil {
		log.Fatalf("registration failed: %s", err)
	}

	log.Printf("registered as %q, capabilities: %v", result.Nickname, result.Capabilities)

	<-make(chan struct{})
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
