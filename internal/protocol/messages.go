package protocol

// Constructors for every message on the wire. Client-originated
// requests generate their own id; server replies echo the request id.

// Hello is the first message from a client after connecting.
// lastEventID, when non-empty, asks the server to replay events the
// client missed while disconnected.
func Hello(clientName, endpointType string, capabilities map[string]any, lastEventID string) Message {
	if capabilities == nil {
		capabilities = map[string]any{}
	}
	var last any
	if lastEventID != "" {
		last = lastEventID
	}
	return Message{
		"type":          MsgHello,
		"id":            newID(),
		"client_name":   clientName,
		"endpoint_type": endpointType,
		"capabilities":  capabilities,
		"last_event_id": last,
	}
}

func Ping() Message {
	return Message{"type": MsgPing, "id": newID()}
}

func Bye(reason string) Message {
	if reason == "" {
		reason = "client_shutdown"
	}
	return Message{"type": MsgBye, "reason": reason}
}

func Subscribe(projectID string) Message {
	return Message{"type": MsgSubscribe, "id": newID(), "project_id": projectID}
}

func Unsubscribe(projectID string) Message {
	return Message{"type": MsgUnsubscribe, "id": newID(), "project_id": projectID}
}

// Projects

func ProjectCreate(name, code string, attributes map[string]any) Message {
	if attributes == nil {
		attributes = map[string]any{}
	}
	return Message{
		"type":       MsgProjectCreate,
		"id":         newID(),
		"name":       name,
		"code":       code,
		"attributes": attributes,
	}
}

func ProjectUpdate(projectID, name, code string) Message {
	return Message{
		"type":       MsgProjectUpdate,
		"id":         newID(),
		"project_id": projectID,
		"name":       name,
		"code":       code,
	}
}

func ProjectGet(projectID string) Message {
	return Message{"type": MsgProjectGet, "id": newID(), "project_id": projectID}
}

func ProjectList() Message {
	return Message{"type": MsgProjectList, "id": newID()}
}

func ProjectDelete(projectID string) Message {
	return Message{"type": MsgProjectDelete, "id": newID(), "project_id": projectID}
}

// Entities

func EntityCreate(entityType, projectID, name, status string, attributes map[string]any) Message {
	if attributes == nil {
		attributes = map[string]any{}
	}
	return Message{
		"type":        MsgEntityCreate,
		"id":          newID(),
		"entity_type": entityType,
		"project_id":  projectID,
		"name":        name,
		"status":      status,
		"attributes":  attributes,
	}
}

func EntityUpdate(entityID string, name, status string, attributes map[string]any) Message {
	m := Message{
		"type":      MsgEntityUpdate,
		"id":        newID(),
		"entity_id": entityID,
	}
	if name != "" {
		m["name"] = name
	}
	if status != "" {
		m["status"] = status
	}
	if attributes != nil {
		m["attributes"] = attributes
	}
	return m
}

func EntityGet(entityID string) Message {
	return Message{"type": MsgEntityGet, "id": newID(), "entity_id": entityID}
}

func EntityList(entityType, projectID string) Message {
	return Message{
		"type":        MsgEntityList,
		"id":          newID(),
		"entity_type": entityType,
		"project_id":  projectID,
	}
}

func EntityDelete(entityID string) Message {
	return Message{"type": MsgEntityDelete, "id": newID(), "entity_id": entityID}
}

// Graph

func RelationshipCreate(sourceID, targetID, relType string, attributes map[string]any) Message {
	m := Message{
		"type":      MsgRelCreate,
		"id":        newID(),
		"source_id": sourceID,
		"target_id": targetID,
		"rel_type":  relType,
	}
	if len(attributes) > 0 {
		m["attributes"] = attributes
	}
	return m
}

func RelationshipRemove(sourceID, targetID, relType string) Message {
	return Message{
		"type":      MsgRelRemove,
		"id":        newID(),
		"source_id": sourceID,
		"target_id": targetID,
		"rel_type":  relType,
	}
}

func LocationAdd(entityID, path, storageType string, priority int) Message {
	if storageType == "" {
		storageType = "local"
	}
	return Message{
		"type":         MsgLocAdd,
		"id":           newID(),
		"entity_id":    entityID,
		"path":         path,
		"storage_type": storageType,
		"priority":     priority,
	}
}

func LocationRemove(entityID, path string) Message {
	return Message{
		"type":      MsgLocRemove,
		"id":        newID(),
		"entity_id": entityID,
		"path":      path,
	}
}

// Queries

func QueryDependents(entityID string) Message {
	return Message{"type": MsgQueryDependents, "id": newID(), "entity_id": entityID}
}

func QueryDependencies(entityID string) Message {
	return Message{"type": MsgQueryDependencies, "id": newID(), "entity_id": entityID}
}

func QueryShotStack(shotID string) Message {
	return Message{"type": MsgQueryShotStack, "id": newID(), "shot_id": shotID}
}

func QueryEvents(projectID, entityID string, limit int) Message {
	m := Message{"type": MsgQueryEvents, "id": newID(), "limit": limit}
	if projectID != "" {
		m["project_id"] = projectID
	}
	if entityID != "" {
		m["entity_id"] = entityID
	}
	return m
}

// Registry: roles

func RoleRegister(name, label string, order int, pathTemplate string, aliases map[string]string) Message {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return Message{
		"type":          MsgRoleRegister,
		"id":            newID(),
		"name":          name,
		"label":         label,
		"order":         order,
		"path_template": pathTemplate,
		"aliases":       aliases,
	}
}

func RoleRename(oldName, newName string) Message {
	return Message{"type": MsgRoleRename, "id": newID(), "old_name": oldName, "new_name": newName}
}

func RoleRenameLabel(name, newLabel string) Message {
	return Message{"type": MsgRoleLabel, "id": newID(), "name": name, "new_label": newLabel}
}

func RoleDelete(name, migrateTo string) Message {
	m := Message{"type": MsgRoleDelete, "id": newID(), "name": name}
	if migrateTo != "" {
		m["migrate_to"] = migrateTo
	}
	return m
}

func RoleList() Message {
	return Message{"type": MsgRoleList, "id": newID()}
}

// Registry: relationship types

func RelTypeRegister(name, label, description, directionality string) Message {
	return Message{
		"type":           MsgRelTypeRegister,
		"id":             newID(),
		"name":           name,
		"label":          label,
		"description":    description,
		"directionality": directionality,
	}
}

func RelTypeRename(oldName, newName string) Message {
	return Message{"type": MsgRelTypeRename, "id": newID(), "old_name": oldName, "new_name": newName}
}

func RelTypeRenameLabel(name, newLabel string) Message {
	return Message{"type": MsgRelTypeLabel, "id": newID(), "name": name, "new_label": newLabel}
}

func RelTypeDelete(name, migrateTo string) Message {
	m := Message{"type": MsgRelTypeDelete, "id": newID(), "name": name}
	if migrateTo != "" {
		m["migrate_to"] = migrateTo
	}
	return m
}

func RelTypeList() Message {
	return Message{"type": MsgRelTypeList, "id": newID()}
}

// Server → client

func OK(requestID string, result map[string]any) Message {
	m := Message{"type": MsgOK, "id": requestID}
	if result != nil {
		m["result"] = result
	}
	return m
}

// Error builds an error reply. requestID may be "" for errors not tied
// to a request (a nil id goes on the wire so clients can tell).
func Error(requestID, code, message string, details map[string]any) Message {
	var id any
	if requestID != "" {
		id = requestID
	}
	m := Message{
		"type":    MsgError,
		"id":      id,
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		m["details"] = details
	}
	return m
}

func Welcome(requestID, sessionID, serverVersion string, registrySummary map[string]any) Message {
	if registrySummary == nil {
		registrySummary = map[string]any{}
	}
	return Message{
		"type":             MsgWelcome,
		"id":               requestID,
		"session_id":       sessionID,
		"server_version":   serverVersion,
		"registry_summary": registrySummary,
	}
}

func Pong(requestID string) Message {
	return Message{"type": MsgPong, "id": requestID}
}

// Event builds a server-push event frame.
func Event(eventType string, payload map[string]any, projectID, entityID, eventID string) Message {
	if eventID == "" {
		eventID = newID()
	}
	var pid, eid any
	if projectID != "" {
		pid = projectID
	}
	if entityID != "" {
		eid = entityID
	}
	return Message{
		"type":       MsgEvent,
		"event_id":   eventID,
		"event_type": eventType,
		"project_id": pid,
		"entity_id":  eid,
		"payload":    payload,
	}
}
