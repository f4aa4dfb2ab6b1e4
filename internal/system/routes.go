package system

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/agrisound-hub-go/internal/api"
	"github.com/strefethen/agrisound-hub-go/internal/apperrors"
	"github.com/strefethen/agrisound-hub-go/internal/scheduler"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(getDashboard(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info, err := service.GetSystemInfo(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get system info")
		}
		return api.WriteResource(w, http.StatusOK, formatSystemInfo(info))
	}
}

// getDashboard handles GET /v1/dashboard
func getDashboard(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		data, err := service.GetDashboardData(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get dashboard data")
		}
		return api.WriteResource(w, http.StatusOK, formatDashboardData(data))
	}
}

func formatSystemInfo(info *SystemInfo) map[string]any {
	result := map[string]any{
		"object":            "system_info",
		"hub_version":       info.HubVersion,
		"uptime_seconds":    info.Uptime,
		"memory_mb":         info.MemoryUsageMB,
		"sqlite_connected":  info.SQLiteConnected,
		"remote_enabled":    info.RemoteEnabled,
		"remote_connected":  info.RemoteConnected,
		"device_status":     info.Device.Status,
		"battery_level":     info.Device.BatteryLevel,
		"main_switch":       info.Flags.MainSwitch,
		"device_power":      info.Flags.DevicePower,
		"audio_unlocked":    info.AudioUnlocked,
		"scheduler_running": info.SchedulerRunning,
		"schedules_total":   info.SchedulesTotal,
		"schedules_active":  info.SchedulesActive,
		"sounds_total":      info.SoundsTotal,
		"logs_total":        info.LogsTotal,
		"log_store_healthy": info.LogStoreHealthy,
		"live_viewers":      info.LiveViewers,
		"next_tick_at":      nil,
	}
	if info.NextTickAt != nil {
		result["next_tick_at"] = info.NextTickAt.UTC().Format(time.RFC3339)
	}
	return result
}

func formatDashboardData(data *DashboardData) map[string]any {
	result := map[string]any{
		"object":          "dashboard",
		"now":             data.Now.Time.Format(time.RFC3339),
		"weekday":         data.Now.Weekday,
		"device_status":   data.Device.Status,
		"battery_level":   data.Device.BatteryLevel,
		"last_sound":      data.Device.LastSoundPlayed,
		"armed":           data.Flags.MainSwitch && data.Flags.DevicePower,
		"upcoming":        formatFirings(data.Upcoming),
		"attention_items": formatAttentionItems(data.AttentionItems),
		"next_firing":     nil,
	}
	if data.NextFiring != nil {
		result["next_firing"] = formatFiring(*data.NextFiring)
	}
	return result
}

func formatFirings(firings []scheduler.Firing) []map[string]any {
	result := make([]map[string]any, 0, len(firings))
	for _, f := range firings {
		result = append(result, formatFiring(f))
	}
	return result
}

func formatFiring(f scheduler.Firing) map[string]any {
	return map[string]any{
		"schedule_id": f.ScheduleID,
		"name":        f.Name,
		"at":          f.At.Format(time.RFC3339),
	}
}

func formatAttentionItems(items []AttentionItem) []map[string]any {
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		formatted := map[string]any{
			"type":     item.Type,
			"severity": item.Severity,
			"message":  item.Message,
		}
		if item.Details != nil {
			formatted["details"] = item.Details
		}
		if item.ResolveHint != "" {
			formatted["resolve_hint"] = item.ResolveHint
		}
		result = append(result, formatted)
	}
	return result
}
