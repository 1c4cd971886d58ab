// Command meshberry-host founds a meshberry session: it advertises itself
// over mDNS/DNS-SD, accepts clients through an SRP-authenticated
// coordinator, and bootstraps the full mesh once you tell it to.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blockberries/meshberry"
)

func main() {
	username := flag.String("name", "host", "Your username")
	sessionName := flag.String("session", "", "Session name clients will browse for (required)")
	passcode := flag.String("passcode", "", "Shared session passcode (required)")
	coordPort := flag.Int("coordinator-port", 0, "Coordinator port (0 picks one automatically)")
	nodePort := flag.Int("node-port", 0, "Mesh listener port (0 picks one automatically)")
	flag.Parse()

	if *sessionName == "" || *passcode == "" {
		fmt.Println("Usage: meshberry-host -session <name> -passcode <secret> [-name <username>]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := meshberry.NewSessionConfig(*username, *sessionName, *passcode,
		meshberry.WithCoordinatorPort(*coordPort),
		meshberry.WithNodePort(*nodePort),
	)

	session, err := meshberry.NewHost(ctx, cfg)
	if err != nil {
		fmt.Printf("failed to found session: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	fmt.Printf("meshberry host %q listening (coordinator :%d, mesh :%d)\n",
		*sessionName, session.CoordinatorPort(), session.NodePort())
	fmt.Println("Commands:")
	fmt.Println("  start            - bootstrap the mesh from everyone authenticated so far")
	fmt.Println("  send <user> <msg> - send a direct message")
	fmt.Println("  broadcast <msg>  - send a message to every neighbor")
	fmt.Println("  health           - print neighbor health")
	fmt.Println("  quit             - exit")

	go printEvents(session)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "quit", "exit":
			return
		case "start":
			if err := session.StartMesh(); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		case "send":
			if len(parts) < 3 {
				fmt.Println("usage: send <user> <message>")
				continue
			}
			if err := session.SendMessage(parts[1], strings.Join(parts[2:], " ")); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		case "broadcast":
			if len(parts) < 2 {
				fmt.Println("usage: broadcast <message>")
				continue
			}
			if err := session.Broadcast(strings.Join(parts[1:], " ")); err != nil {
				fmt.Printf("broadcast failed: %v\n", err)
			}
		case "health":
			printHealth(session)
		default:
			fmt.Printf("unknown command: %s\n", parts[0])
		}
	}
}

func printEvents(session *meshberry.Session) {
	for evt := range session.Events() {
		switch evt.Kind {
		case "message":
			fmt.Printf("\n[%s]: %s\n> ", evt.Username, evt.Text)
		case "connection":
			fmt.Printf("\n%s is now %s\n> ", evt.Username, evt.State)
		case "error", "coordinator-auth-failed":
			fmt.Printf("\nerror: %v\n> ", evt.Err)
		}
	}
}

func printHealth(session *meshberry.Session) {
	health := session.Health()
	fmt.Printf("%d neighbor(s):\n", len(health.Neighbors))
	for _, n := range health.Neighbors {
		fmt.Printf("  %-16s healthy=%v key=%s\n", n.Username, n.FullyHealthy, n.KeyConfirmation)
	}
}
