package grpcsvc

import (
	"encoding/json"
	"math"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

func newResponse(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	value := optionalString(req, field)
	if value == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return value, nil
}

func optionalString(req *structpb.Struct, field string) string {
	return strings.TrimSpace(req.GetFields()[field].GetStringValue())
}

func optionalBool(req *structpb.Struct, field string) bool {
	return req.GetFields()[field].GetBoolValue()
}

func optionalInt(req *structpb.Struct, field string) int {
	n := req.GetFields()[field].GetNumberValue()
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

func platformList(req *structpb.Struct, field string) ([]domain.Platform, error) {
	value, ok := req.GetFields()[field]
	if !ok {
		return nil, nil
	}
	list := value.GetListValue()
	if list == nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", field)
	}

	platforms := make([]domain.Platform, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		raw, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", field)
		}
		platforms = append(platforms, domain.Platform(strings.ToLower(strings.TrimSpace(raw.StringValue))))
	}
	return platforms, nil
}

func platformsToList(platforms []domain.Platform) []any {
	result := make([]any, 0, len(platforms))
	for _, p := range platforms {
		result = append(result, string(p))
	}
	return result
}

func statusToMap(st domain.SyncStatus) map[string]any {
	m := map[string]any{
		"restaurant_id": st.RestaurantID,
		"platform":      string(st.Platform),
		"status":        string(st.Status),
		"item_count":    st.ItemCount,
		"retry_count":   st.RetryCount,
	}
	if st.LastSyncTime != nil {
		m["last_sync_time"] = formatTime(*st.LastSyncTime)
	}
	if st.ExternalMenuID != "" {
		m["external_menu_id"] = st.ExternalMenuID
	}
	if st.LastError != "" {
		m["last_error"] = st.LastError
	}
	if !st.UpdatedAt.IsZero() {
		m["updated_at"] = formatTime(st.UpdatedAt)
	}
	return m
}

func operationToMap(op domain.SyncOperation) map[string]any {
	m := map[string]any{
		"operation_id":        op.OperationID,
		"restaurant_id":       op.RestaurantID,
		"platform":            string(op.Platform),
		"status":              string(op.Status),
		"items_processed":     op.ItemsProcessed,
		"total_items":         op.TotalItems,
		"progress_percentage": op.ProgressPercentage(),
		"started_at":          formatTime(op.StartedAt),
	}
	if op.FinishedAt != nil {
		m["finished_at"] = formatTime(*op.FinishedAt)
	}
	return m
}

func outcomeToMap(outcome domain.SyncOutcome) map[string]any {
	m := map[string]any{
		"restaurant_id": outcome.RestaurantID,
		"platform":      string(outcome.Platform),
		"success":       outcome.Success,
		"item_count":    outcome.ItemCount,
		"attempts":      outcome.Attempts,
	}
	if outcome.OperationID != "" {
		m["operation_id"] = outcome.OperationID
	}
	if outcome.ExternalMenuID != "" {
		m["external_menu_id"] = outcome.ExternalMenuID
	}
	if outcome.ErrorID != "" {
		m["error_id"] = outcome.ErrorID
	}
	if outcome.Failure != nil {
		m["error_message"] = outcome.Failure.Error()
	}
	if outcome.StoreFailures > 0 {
		m["store_failures"] = outcome.StoreFailures
	}
	return m
}

func syncErrorToMap(syncErr domain.SyncError) map[string]any {
	details := map[string]any{
		"kind":    string(syncErr.Details.Kind),
		"message": syncErr.Details.Message,
	}
	if syncErr.Details.StatusCode != 0 {
		details["status_code"] = syncErr.Details.StatusCode
	}

	m := map[string]any{
		"error_id":      syncErr.ErrorID,
		"restaurant_id": syncErr.RestaurantID,
		"platform":      string(syncErr.Platform),
		"created_at":    formatTime(syncErr.CreatedAt),
		"error_details": details,
		"retry_count":   syncErr.RetryCount,
		"resolved":      syncErr.Resolved,
	}
	if syncErr.ResolvedAt != nil {
		m["resolved_at"] = formatTime(*syncErr.ResolvedAt)
	}
	if len(syncErr.MenuSnapshot) > 0 {
		var snapshot any
		if err := json.Unmarshal(syncErr.MenuSnapshot, &snapshot); err == nil {
			m["menu_snapshot"] = snapshot
		} else {
			m["menu_snapshot"] = string(syncErr.MenuSnapshot)
		}
	}
	return m
}
