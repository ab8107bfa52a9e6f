package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/util"
)

// serverView is the JSON form of a listed game server.
type serverView struct {
	ID             uint32 `json:"id"`
	Name           string `json:"name"`
	Address        string `json:"address"`
	LocalIP        string `json:"local_ip"`
	Port           uint16 `json:"port"`
	CurrentPlayers uint16 `json:"current_players"`
	MaxPlayers     uint16 `json:"max_players"`
	Flags          uint32 `json:"flags"`
	Version        uint32 `json:"version"`
	Hidden         bool   `json:"hidden"`
}

func newServerView(info protocol.ServerInfo) serverView {
	local := info.LocalIP
	return serverView{
		ID:             info.ServerID,
		Name:           info.Name,
		Address:        fmt.Sprintf("%s:%d", info.ExternalAddr(), info.Port),
		LocalIP:        fmt.Sprintf("%d.%d.%d.%d", local[0], local[1], local[2], local[3]),
		Port:           info.Port,
		CurrentPlayers: info.CurrentPlayers,
		MaxPlayers:     info.MaxPlayers,
		Flags:          info.Flags,
		Version:        info.Version,
		Hidden:         info.Hidden,
	}
}

// handleStats returns the traffic counters.
func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{
		"stats":   s.deps.Stats.Snapshot(),
		"clients": len(s.deps.Lobby.Clients()),
		"users":   len(s.deps.Lobby.Users()),
		"servers": len(s.deps.Lobby.Servers()),
	}
	if s.deps.Accounts != nil {
		if n, err := s.deps.Accounts.CountAccounts(); err == nil {
			resp["accounts"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleSystem returns host and process resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	c.JSON(http.StatusOK, resp)
}

// handleClients lists every connection, logged in or not.
func (s *Server) handleClients(c *gin.Context) {
	clients := s.deps.Lobby.Clients()
	c.JSON(http.StatusOK, gin.H{
		"clients": clients,
		"total":   len(clients),
	})
}

// handleUsers lists the logged in players.
func (s *Server) handleUsers(c *gin.Context) {
	users := s.deps.Lobby.Users()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"total": len(users),
	})
}

// handleServers lists the registered game servers.
func (s *Server) handleServers(c *gin.Context) {
	infos := s.deps.Lobby.Servers()
	views := make([]serverView, 0, len(infos))
	for _, info := range infos {
		views = append(views, newServerView(info))
	}
	c.JSON(http.StatusOK, gin.H{
		"servers": views,
		"total":   len(views),
	})
}

// handleAccount shows one account and its character slots.
func (s *Server) handleAccount(c *gin.Context) {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store disabled"})
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	acc, err := s.deps.Accounts.FindAccountByName(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if acc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	slots, err := s.deps.Accounts.ListSaveSlots(acc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	online := false
	for _, u := range s.deps.Lobby.Users() {
		if u.AccountID == acc.ID {
			online = true
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"account": acc,
		"slots":   slots,
		"online":  online,
	})
}
