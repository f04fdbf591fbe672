package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/openlighting/ordmbridge/artnet"
	"github.com/openlighting/ordmbridge/config"
	"github.com/openlighting/ordmbridge/port"
	"github.com/openlighting/ordmbridge/rdm"
	"github.com/openlighting/ordmbridge/remap"
	"github.com/openlighting/ordmbridge/senders"
	"github.com/openlighting/ordmbridge/transport"
)

// App is the ArtNet Adapter (SPEC_FULL.md §4.6): it implements
// artnet.PacketHandler to dispatch inbound DMX/RDM/TodControl traffic
// into the right Port via the Universe Router, and implements
// port.Upstream to carry Port replies back out as ArtTodData/ArtRdm.
type App struct {
	router    *remap.Router
	node      *port.Node
	sender    *artnet.Sender
	discovery *artnet.Discovery
	tracker   *senders.Tracker
	debug     bool

	// replyAddr remembers, per universe, the last controller address
	// that sent an ArtRdm/ArtTodControl request — used to address
	// replies and unsolicited TOD publishes. Falls back to Discovery's
	// node table, then to broadcast, when nothing has been recorded
	// yet (e.g. an unsolicited periodic incremental-discovery publish).
	replyMu   sync.Mutex
	replyAddr map[int]*net.UDPAddr
}

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	artnetListen := flag.String("artnet-listen", ":6454", "artnet listen address")
	artnetBroadcast := flag.String("artnet-broadcast", "auto", "artnet broadcast addresses (comma-separated, or 'auto')")
	debug := flag.Bool("debug", false, "log incoming/outgoing dmx and rdm packets")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	log.Printf("[config] loaded ports=%d", len(cfg.Ports))

	router := remap.NewRouter(cfg.PortToUniverse())

	var broadcasts []*net.UDPAddr
	if *artnetBroadcast == "auto" {
		broadcasts = detectBroadcastAddrs()
	} else {
		for _, addrStr := range strings.Split(*artnetBroadcast, ",") {
			addr, err := parseTargetAddr(strings.TrimSpace(addrStr), artnet.Port)
			if err != nil {
				log.Fatalf("broadcast error: address=%q err=%v", addrStr, err)
			}
			broadcasts = append(broadcasts, addr)
		}
	}
	if len(broadcasts) == 0 {
		log.Fatalf("no broadcast address available")
	}
	for _, addr := range broadcasts {
		log.Printf("[config]   broadcast %s", addr)
	}

	sender, err := artnet.NewSender(broadcasts[0].IP.String())
	if err != nil {
		log.Fatalf("artnet sender error: %v", err)
	}
	defer sender.Close()

	shortName := cfg.Node.ShortName
	if shortName == "" {
		shortName = "ordmbridge"
	}
	longName := cfg.Node.LongName
	if longName == "" {
		longName = "OpenLighting RDM bridge"
	}

	var universes []artnet.Universe
	for _, u := range router.Universes() {
		universes = append(universes, artnet.Universe(u))
	}

	discovery := artnet.NewDiscovery(sender, shortName, longName, universes, broadcasts)
	discovery.SetLocalIP(detectLocalIP(broadcasts[0].IP))

	app := &App{
		router:    router,
		sender:    sender,
		discovery: discovery,
		tracker:   senders.New(),
		debug:     *debug,
		replyAddr: make(map[int]*net.UDPAddr),
	}

	ports := make([]*port.Port, len(cfg.Ports))
	for i, pc := range cfg.Ports {
		tr, err := transport.NewSerialTransport(pc.Device)
		if err != nil {
			log.Fatalf("port %d: transport error: device=%s err=%v", i, pc.Device, err)
		}
		ports[i] = port.New(i, port.Config{
			Universe:             int(pc.Universe.Universe),
			Device:               pc.Device,
			RDMEnabled:           pc.RDMEnabled,
			IncrementalDiscovery: pc.IncrementalDiscovery,
		}, tr, app)
		log.Printf("[config]   port %d device=%s universe=%s rdm=%v incremental=%v",
			i, pc.Device, pc.Universe.Universe, pc.RDMEnabled, pc.IncrementalDiscovery)
	}
	app.node = port.NewNode(ports)

	listenAddr, err := parseListenAddr(*artnetListen)
	if err != nil {
		log.Fatalf("artnet listen error: %v", err)
	}
	receiver, err := artnet.NewReceiver(listenAddr, app)
	if err != nil {
		log.Fatalf("artnet receiver error: %v", err)
	}
	receiver.Start()
	log.Printf("[artnet] listening addr=%s", listenAddr)

	discovery.Start()

	ctx, cancel := context.WithCancel(context.Background())
	app.node.Start(ctx)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			app.printStats()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] shutting down")
	cancel()
	receiver.Stop()
	discovery.Stop()
	app.node.Wait()
	if err := app.node.Close(); err != nil {
		log.Printf("[main] close error: %v", err)
	}
}

// HandleDMX implements artnet.PacketHandler.
func (a *App) HandleDMX(src *net.UDPAddr, pkt *artnet.DMXPacket) {
	if a.debug {
		log.Printf("[<-artnet] dmx src=%s universe=%s len=%d", src.IP, pkt.Universe, pkt.Length)
	}
	for _, idx := range a.router.PortsFor(int(pkt.Universe)) {
		p, ok := a.node.PortByIndex(idx)
		if !ok {
			continue
		}
		p.EnqueueDMX(pkt.Data[:pkt.Length])
		a.tracker.Record(senders.ProtocolArtNetDMX, idx, src.IP)
	}
}

// HandlePoll implements artnet.PacketHandler.
func (a *App) HandlePoll(src *net.UDPAddr, pkt *artnet.PollPacket) {
	if a.debug {
		log.Printf("[<-artnet] poll src=%s", src.IP)
	}
	a.discovery.HandlePoll(src)
}

// HandlePollReply implements artnet.PacketHandler.
func (a *App) HandlePollReply(src *net.UDPAddr, pkt *artnet.PollReplyPacket) {
	if a.debug {
		log.Printf("[<-artnet] pollreply src=%s", src.IP)
	}
	a.discovery.HandlePollReply(src, pkt)
}

// HandleTodControl implements artnet.PacketHandler: an AtcFlush command
// pushes a zero-length full-discovery sentinel into every port sharing
// this universe (spec.md's documented, non-deduplicated fan-out).
func (a *App) HandleTodControl(src *net.UDPAddr, pkt *artnet.TodControlPacket) {
	if a.debug {
		log.Printf("[<-artnet] todcontrol src=%s universe=%s cmd=%#x", src.IP, pkt.Universe, pkt.Command)
	}
	if pkt.Command != artnet.AtcFlush {
		return
	}
	universe := int(pkt.Universe)
	a.rememberReplyAddr(universe, src)
	for _, idx := range a.router.PortsFor(universe) {
		p, ok := a.node.PortByIndex(idx)
		if !ok {
			continue
		}
		p.EnqueueRDM(nil)
		a.tracker.Record(senders.ProtocolArtNetRDM, idx, src.IP)
	}
}

// HandleRdm implements artnet.PacketHandler: pushes a copy of the raw
// RDM request body into every port sharing this universe.
func (a *App) HandleRdm(src *net.UDPAddr, pkt *artnet.RdmPacket) {
	if a.debug {
		log.Printf("[<-artnet] rdm src=%s universe=%s bytes=%d", src.IP, pkt.Universe, len(pkt.Data))
	}
	universe := int(pkt.Universe)
	a.rememberReplyAddr(universe, src)
	for _, idx := range a.router.PortsFor(universe) {
		p, ok := a.node.PortByIndex(idx)
		if !ok {
			continue
		}
		p.EnqueueRDM(pkt.Data)
		a.tracker.Record(senders.ProtocolArtNetRDM, idx, src.IP)
	}
}

// PublishRDMDevices implements port.Upstream.
func (a *App) PublishRDMDevices(portIndex int, uids []rdm.UID) {
	universe, ok := a.router.UniverseFor(portIndex)
	if !ok {
		return
	}
	addr := a.replyAddrFor(universe)
	wire := make([][6]byte, len(uids))
	for i, u := range uids {
		rdm.WriteUID(wire[i][:], u)
	}
	if a.debug {
		log.Printf("[->artnet] toddata universe=%d uids=%d dst=%s", universe, len(uids), addrString(addr))
	}
	if err := a.sender.SendTodData(addr, artnet.Universe(universe), wire); err != nil {
		log.Printf("[->artnet] toddata error: universe=%d err=%v", universe, err)
	}
}

// RemoveRDMDevice implements port.Upstream. This repo's ArtTodData carries
// whatever UID list it is given: the whole table after a full discovery,
// the added UIDs after an incremental one. A removal has no ArtTodData
// form of its own, so it republishes whatever the inventory holds now —
// the engine has already dropped uid before calling this.
func (a *App) RemoveRDMDevice(portIndex int, uid rdm.UID) {
	if a.debug {
		log.Printf("[rdm] port=%d lost uid=%s", portIndex, uid)
	}
	a.PublishRDMDevices(portIndex, a.node.TOD(portIndex))
}

// SendRDM implements port.Upstream.
func (a *App) SendRDM(portIndex int, universe int, data []byte) {
	addr := a.replyAddrFor(universe)
	if a.debug {
		log.Printf("[->artnet] rdm universe=%d bytes=%d dst=%s", universe, len(data), addrString(addr))
	}
	if err := a.sender.SendRdm(addr, artnet.Universe(universe), data); err != nil {
		log.Printf("[->artnet] rdm error: universe=%d err=%v", universe, err)
	}
}

func (a *App) rememberReplyAddr(universe int, src *net.UDPAddr) {
	a.replyMu.Lock()
	a.replyAddr[universe] = src
	a.replyMu.Unlock()
}

// replyAddrFor resolves where to address a reply/publish for universe:
// the last requester if one is known, else a peer learned through
// ArtPoll discovery, else broadcast.
func (a *App) replyAddrFor(universe int) *net.UDPAddr {
	a.replyMu.Lock()
	addr := a.replyAddr[universe]
	a.replyMu.Unlock()
	if addr != nil {
		return addr
	}

	if nodes := a.discovery.GetNodesForUniverse(artnet.Universe(universe)); len(nodes) > 0 {
		n := nodes[0]
		return &net.UDPAddr{IP: n.IP, Port: int(n.Port)}
	}

	return a.sender.BroadcastAddr()
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}

func (a *App) printStats() {
	a.tracker.Expire(30 * time.Second)
	snap := a.tracker.Snapshot()
	if len(snap) == 0 {
		return
	}
	log.Printf("[stats] input sources (last 30s):")
	for _, r := range snap {
		log.Printf("[stats]   port=%d protocol=%s src=%s", r.Port, r.Protocol, r.Addr)
	}
}

func init() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}

// parseListenAddr parses listen address formats:
// - "host:port" -> bind to specific host and port
// - "host" -> bind to specific host, default port
// - ":port" -> bind to all interfaces, specific port
func parseListenAddr(s string) (*net.UDPAddr, error) {
	var host string
	var portNum int

	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return nil, err
		}
		host = h
		if p == "" {
			portNum = artnet.Port
		} else {
			portNum, err = strconv.Atoi(p)
			if err != nil {
				return nil, err
			}
		}
	} else {
		host = s
		portNum = artnet.Port
	}

	var ip net.IP
	if host == "" {
		ip = net.IPv4zero
	} else {
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address: %s", host)
		}
	}

	return &net.UDPAddr{IP: ip, Port: portNum}, nil
}

func parseTargetAddr(s string, defaultPort int) (*net.UDPAddr, error) {
	var host string
	var portNum int

	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return nil, err
		}
		host = h
		portNum, err = strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
	} else {
		host = s
		portNum = defaultPort
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", host)
	}

	return &net.UDPAddr{IP: ip, Port: portNum}, nil
}

// detectLocalIP returns the local IPv4 address whose interface subnet
// matches broadcast, for ArtPollReply's source identification.
func detectLocalIP(broadcast net.IP) net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			mask := ipnet.Mask
			if len(mask) != 4 {
				continue
			}

			bcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}

			if bcast.Equal(broadcast) {
				return ip4
			}
		}
	}
	return nil
}

// detectBroadcastAddrs returns broadcast addresses for all network
// interfaces.
func detectBroadcastAddrs() []*net.UDPAddr {
	var addrs []*net.UDPAddr
	seen := make(map[string]bool)

	ifaces, err := net.Interfaces()
	if err != nil {
		return addrs
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range ifaceAddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			mask := ipnet.Mask
			if len(mask) != 4 {
				continue
			}

			broadcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				broadcast[i] = ip4[i] | ^mask[i]
			}

			key := broadcast.String()
			if seen[key] {
				continue
			}
			seen[key] = true

			addrs = append(addrs, &net.UDPAddr{IP: broadcast, Port: artnet.Port})
		}
	}

	return addrs
}
