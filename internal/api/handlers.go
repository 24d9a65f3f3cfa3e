package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
	"github.com/muurk/usbshare/internal/logging"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := HealthResponse{
		Status:   StatusOK,
		Version:  s.config.Version,
		Hostname: s.config.Hostname,
	}

	devices, err := s.devices.Devices(ctx)
	switch {
	case err == nil:
	case devicestate.IsStale(err):
		resp.Status = StatusDegraded
		resp.Stale = true
	default:
		resp.Status = StatusDegraded
		s.logger.Warn("Health check could not list devices", zap.Error(err))
	}
	resp.DeviceCount = len(devices)
	resp.SharedDeviceCount, resp.AttachedDeviceCount = devicestate.Counts(devices)

	if s.tool != nil {
		if v, err := s.tool.Version(ctx); err == nil && v != "" {
			resp.UsbipdAvailable = true
			resp.UsbipdVersion = v
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.Devices(r.Context())
	stale := devicestate.IsStale(err)
	if err != nil && !stale {
		s.writeDeviceError(w, "", err)
		return
	}
	if devices == nil {
		devices = []devicestate.UsbDevice{}
	}

	s.logger.Debug("Returning devices", zap.Int("count", len(devices)), zap.Bool("stale", stale))
	writeJSON(w, http.StatusOK, DeviceListResponse{
		Devices:    devices,
		ServerInfo: s.serverInfo(),
		Stale:      stale,
	})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("busId")
	if _, ok := s.lookup(w, r, busID); !ok {
		return
	}
	if err := s.devices.Share(r.Context(), busID); err != nil {
		s.writeDeviceError(w, busID, err)
		return
	}
	s.writeDevice(w, r, busID)
}

func (s *Server) handleUnshare(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("busId")
	if _, ok := s.lookup(w, r, busID); !ok {
		return
	}
	if err := s.devices.Unshare(r.Context(), busID); err != nil {
		s.writeDeviceError(w, busID, err)
		return
	}
	s.writeDevice(w, r, busID)
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("busId")

	clientIP, err := remoteIP(r)
	if err != nil {
		s.logger.Warn("Unable to determine client IP address",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		writeError(w, http.StatusBadRequest, CodeInvalidClientIP, "Unable to determine client IP address")
		return
	}

	device, ok := s.lookup(w, r, busID)
	if !ok {
		return
	}
	if !device.IsShared {
		writeError(w, http.StatusBadRequest, CodeDeviceNotShared,
			fmt.Sprintf("Device '%s' must be shared before it can be attached", busID))
		return
	}

	s.logger.Info("Attach device requested", zap.String("bus_id", busID), zap.String("client_ip", clientIP))
	if err := s.devices.Attach(r.Context(), busID, clientIP); err != nil {
		s.writeDeviceError(w, busID, err)
		return
	}
	s.writeAttachResponse(w, r, busID, "Device attached successfully")
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	busID := r.PathValue("busId")

	device, ok := s.lookup(w, r, busID)
	if !ok {
		return
	}
	if !device.IsAttached {
		writeError(w, http.StatusBadRequest, CodeDeviceNotAttached,
			fmt.Sprintf("Device '%s' is not currently attached", busID))
		return
	}

	if err := s.devices.Detach(r.Context(), busID); err != nil {
		s.writeDeviceError(w, busID, err)
		return
	}
	s.writeAttachResponse(w, r, busID, "Device detached successfully")
}

// lookup fetches busID and writes the error response if it cannot.
// A device found in a stale list is accepted.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, busID string) (devicestate.UsbDevice, bool) {
	device, err := s.devices.Device(r.Context(), busID)
	if err != nil && !(devicestate.IsStale(err) && device.BusID != "") {
		s.writeDeviceError(w, busID, err)
		return devicestate.UsbDevice{}, false
	}
	return device, true
}

func (s *Server) writeDevice(w http.ResponseWriter, r *http.Request, busID string) {
	device, ok := s.lookup(w, r, busID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) writeAttachResponse(w http.ResponseWriter, r *http.Request, busID, message string) {
	device, ok := s.lookup(w, r, busID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, AttachResponse{
		Success: true,
		Message: message,
		Device:  &device,
	})
}

// writeDeviceError maps device state errors to API responses.
func (s *Server) writeDeviceError(w http.ResponseWriter, busID string, err error) {
	var collabErr *devicestate.CollaboratorError
	switch {
	case devicestate.IsNotFound(err):
		s.logger.Warn("Device not found", zap.String("bus_id", busID))
		writeError(w, http.StatusNotFound, CodeDeviceNotFound,
			fmt.Sprintf("Device with BusId '%s' not found", busID))
	case errors.As(err, &collabErr) && collabErr.Op == "list":
		s.logger.Error("Device list unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, CodeDevicesUnavailable, err.Error())
	case errors.As(err, &collabErr):
		s.logger.Error("Device operation failed", zap.String("bus_id", busID), zap.Error(err))
		writeError(w, http.StatusBadGateway, CodeOperationFailed, err.Error())
	default:
		s.logger.Error("Request failed", zap.String("bus_id", busID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func (s *Server) serverInfo() ServerInfo {
	return ServerInfo{
		ID:        s.config.ServerID,
		Hostname:  s.config.Hostname,
		IPAddress: s.config.IPAddress,
		APIPort:   uint16(s.config.Port),
		Version:   s.config.Version,
		IsOnline:  true,
		LastSeen:  time.Now().UTC(),
	}
}

// remoteIP returns the caller's IP from the connection address. Forwarding
// headers are ignored; usbipd attaches to the peer that asked.
func remoteIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		return "", fmt.Errorf("invalid remote address %q", r.RemoteAddr)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), nil
	}
	return ip.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: true, Code: code, Message: message})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the event stream upgrade through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
