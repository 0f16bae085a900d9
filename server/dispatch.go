package server

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/docstore"
	"github.com/kartikbazzad/docstore/aggregate"
	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/auth"
	"github.com/kartikbazzad/docstore/cursor"
	"github.com/kartikbazzad/docstore/wire"
)

// Operation names, matching spec.md §4's C3/C6/C7/C8/C9 vocabulary
// verbatim so a Command.Op round-trips the specification's own words.
const (
	OpCreateCollection = "create_collection"
	OpDropCollection   = "drop_collection"
	OpListCollections  = "list_collections"
	OpInsert           = "insert"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpGet              = "get"
	OpExists           = "exists"
	OpCreateCursor     = "create_cursor"
	OpGetMore          = "get_more"
	OpKillCursor       = "kill_cursor"
	OpAggregate        = "aggregate"
	OpRegisterUser     = "register_user"
	OpAuthenticate     = "authenticate"
	OpValidateToken    = "validate_token"
	OpRevokeToken      = "revoke_token"
	OpChangePassword   = "change_password"
	OpAssignRole       = "assign_role"
	OpRemoveRole       = "remove_role"
	OpUserHasRole      = "user_has_role"
	OpUserHasPerm      = "user_has_permission"
	OpGetUserRoles     = "get_user_roles"
	OpGetUserPerms     = "get_user_permissions"
	OpCreateRole       = "create_role"
	OpDeleteRole       = "delete_role"
	OpGetAllRoles      = "get_all_roles"
	OpRemoveUser       = "remove_user"
	OpAuthorize        = "authorize"
)

// publicOps never require a token, even when RequireAuthentication is on
// (a client cannot present a token it hasn't been issued yet).
var publicOps = map[string]bool{
	OpRegisterUser: true,
	OpAuthenticate: true,
}

// opPermission maps an operation to the permission Authorize must grant
// before the operation runs, for every operation requiring one.
var opPermission = map[string]auth.Permission{
	OpCreateCollection: auth.PermAdmin,
	OpDropCollection:   auth.PermAdmin,
	OpListCollections:  auth.PermRead,
	OpInsert:           auth.PermWrite,
	OpUpdate:           auth.PermWrite,
	OpDelete:           auth.PermWrite,
	OpGet:              auth.PermRead,
	OpExists:           auth.PermRead,
	OpCreateCursor:     auth.PermRead,
	OpGetMore:          auth.PermRead,
	OpKillCursor:       auth.PermRead,
	OpAggregate:        auth.PermRead,
	OpAssignRole:       auth.PermAdmin,
	OpRemoveRole:       auth.PermAdmin,
	OpCreateRole:       auth.PermAdmin,
	OpDeleteRole:       auth.PermAdmin,
	OpRemoveUser:       auth.PermAdmin,
}

// Dispatcher turns wire Commands into Database calls and Database
// results back into wire Responses. It holds no connection state of its
// own, so one Dispatcher safely serves every concurrent connection.
type Dispatcher struct {
	DB                    *docstore.Database
	RequireAuthentication bool
}

// New constructs a Dispatcher enforcing RequireAuthentication per db's
// current configuration.
func New(db *docstore.Database) *Dispatcher {
	return &Dispatcher{DB: db, RequireAuthentication: db.Config().RequireAuthentication}
}

// Dispatch executes one Command and returns its Response, never
// panicking: malformed arguments and core-component failures alike come
// back as a failure Response, per spec.md §7's result-envelope policy.
func (d *Dispatcher) Dispatch(cmd wire.Command) wire.Response {
	if d.RequireAuthentication && !publicOps[cmd.Op] {
		if perm, needsAuth := opPermission[cmd.Op]; needsAuth {
			res := d.DB.Authorize(cmd.Token, perm, nil)
			if !res.IsAuthorized {
				return errResponse(apperr.Kind(res.FailureKind), res.FailureReason)
			}
		}
	}

	switch cmd.Op {
	case OpCreateCollection:
		return d.createCollection(cmd.Args)
	case OpDropCollection:
		return d.dropCollection(cmd.Args)
	case OpListCollections:
		return okResponse(d.DB.ListCollections())
	case OpInsert:
		return d.insert(cmd.Args)
	case OpUpdate:
		return d.update(cmd.Args)
	case OpDelete:
		return d.delete(cmd.Args)
	case OpGet:
		return d.get(cmd.Args)
	case OpExists:
		return d.exists(cmd.Args)
	case OpCreateCursor:
		return d.createCursor(cmd.Args)
	case OpGetMore:
		return d.getMore(cmd.Args)
	case OpKillCursor:
		return d.killCursor(cmd.Args)
	case OpAggregate:
		return d.aggregateCmd(cmd.Args)
	case OpRegisterUser:
		return d.registerUser(cmd.Args)
	case OpAuthenticate:
		return d.authenticate(cmd.Args)
	case OpValidateToken:
		return d.validateToken(cmd.Args)
	case OpRevokeToken:
		return d.revokeToken(cmd.Args)
	case OpChangePassword:
		return d.changePassword(cmd.Args)
	case OpAssignRole:
		return d.roleBinding(cmd.Args, d.DB.AssignRole)
	case OpRemoveRole:
		return d.roleBinding(cmd.Args, d.DB.RemoveRole)
	case OpUserHasRole:
		return d.userHasRole(cmd.Args)
	case OpUserHasPerm:
		return d.userHasPermission(cmd.Args)
	case OpGetUserRoles:
		return d.getUserRoles(cmd.Args)
	case OpGetUserPerms:
		return d.getUserPermissions(cmd.Args)
	case OpCreateRole:
		return d.createRole(cmd.Args)
	case OpDeleteRole:
		return d.deleteRole(cmd.Args)
	case OpGetAllRoles:
		return okResponse(d.DB.GetAllRoles())
	case OpRemoveUser:
		return d.removeUser(cmd.Args)
	case OpAuthorize:
		return d.authorize(cmd.Args)
	default:
		return errResponse(apperr.InvalidArgument, fmt.Sprintf("unknown operation %q", cmd.Op))
	}
}

func okResponse(v interface{}) wire.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return wire.Response{Success: true, Result: body}
}

func errResponse(kind apperr.Kind, msg string) wire.Response {
	return wire.Response{Success: false, ErrorKind: string(kind), ErrorMessage: msg}
}

func errFromErr(err error) wire.Response {
	return errResponse(apperr.KindOf(err), err.Error())
}

func unmarshalArgs(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (d *Dispatcher) createCollection(raw []byte) wire.Response {
	var args struct {
		Collection string `json:"collection"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := d.DB.CreateCollection(args.Collection); err != nil {
		return errFromErr(err)
	}
	return okResponse(true)
}

func (d *Dispatcher) dropCollection(raw []byte) wire.Response {
	var args struct {
		Collection string `json:"collection"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := d.DB.DropCollection(args.Collection); err != nil {
		return errFromErr(err)
	}
	return okResponse(true)
}

func (d *Dispatcher) insert(raw []byte) wire.Response {
	var args wire.InsertArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	doc, err := docFromWire(args.Document)
	if err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := d.DB.Insert(args.Collection, doc); err != nil {
		return errFromErr(err)
	}
	return okResponse(docToWire(doc))
}

func (d *Dispatcher) update(raw []byte) wire.Response {
	var args wire.UpdateArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	doc, err := docFromWire(args.Document)
	if err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := d.DB.Update(args.Collection, doc); err != nil {
		return errFromErr(err)
	}
	return okResponse(docToWire(doc))
}

func (d *Dispatcher) delete(raw []byte) wire.Response {
	var args wire.DeleteArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := d.DB.Delete(args.Collection, args.Id); err != nil {
		return errFromErr(err)
	}
	return okResponse(true)
}

func (d *Dispatcher) get(raw []byte) wire.Response {
	var args wire.GetArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	doc, ok := d.DB.Get(args.Collection, args.Id)
	if !ok {
		return okResponse(wire.DocumentResult{Found: false})
	}
	return okResponse(wire.DocumentResult{Found: true, Document: docToWire(doc)})
}

func (d *Dispatcher) exists(raw []byte) wire.Response {
	var args wire.ExistsArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.Exists(args.Collection, args.Id))
}

func (d *Dispatcher) createCursor(raw []byte) wire.Response {
	var args wire.CreateCursorArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	filterTree, err := filterFromWire(args.Filter)
	if err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	sortSpec := make([]cursor.SortField, len(args.Sort))
	for i, s := range args.Sort {
		sortSpec[i] = cursor.SortField{Path: s.Path, Desc: s.Desc}
	}
	result := d.DB.CreateCursor(args.Collection, filterTree, sortSpec, cursor.Options{
		BatchSize:         args.BatchSize,
		TimeoutMinutes:    args.TimeoutMinutes,
		IncludeTotalCount: args.IncludeTotalCount,
		ResumeToken:       args.ResumeToken,
	})
	return okResponse(batchToWire(result))
}

func (d *Dispatcher) getMore(raw []byte) wire.Response {
	var args wire.GetMoreArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	result := d.DB.GetMore(args.CursorId, args.BatchSize)
	return okResponse(batchToWire(result))
}

func (d *Dispatcher) killCursor(raw []byte) wire.Response {
	var args wire.KillCursorArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	d.DB.KillCursor(args.CursorId)
	return okResponse(true)
}

func batchToWire(r *cursor.BatchResult) wire.CursorBatchResult {
	docs := make([]map[string]interface{}, len(r.Documents))
	for i, doc := range r.Documents {
		docs[i] = docToWire(doc)
	}
	return wire.CursorBatchResult{
		Success:      r.Success,
		CursorId:     r.CursorId,
		Documents:    docs,
		HasMore:      r.HasMore,
		TotalCount:   r.TotalCount,
		ResumeToken:  r.ResumeToken,
		ErrorMessage: r.ErrorMessage,
	}
}

func (d *Dispatcher) aggregateCmd(raw []byte) wire.Response {
	var args wire.RunPipelineArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	stages := make([]aggregate.Stage, len(args.Stages))
	for i, s := range args.Stages {
		stage, err := stageFromWire(s)
		if err != nil {
			return errResponse(apperr.InvalidArgument, err.Error())
		}
		stages[i] = stage
	}
	result := d.DB.Aggregate(args.Collection, stages)
	docs := make([]map[string]interface{}, len(result.Documents))
	for i, doc := range result.Documents {
		docs[i] = docToWire(doc)
	}
	return okResponse(wire.PipelineResultWire{
		Success:        result.Success,
		Documents:      docs,
		Count:          result.Count,
		StagesExecuted: result.StagesExecuted,
		ErrorMessage:   result.ErrorMessage,
	})
}

func stageFromWire(s wire.StageSpec) (aggregate.Stage, error) {
	stage := aggregate.Stage{
		Kind:       aggregate.StageKind(s.Kind),
		Projection: s.Projection,
		N:          s.N,
		GroupBy:    s.GroupBy,
	}
	if s.Filter != nil {
		f, err := filterFromWire(s.Filter)
		if err != nil {
			return stage, err
		}
		stage.Filter = f
	}
	if len(s.Sort) > 0 {
		stage.SortFields = make([]aggregate.SortField, len(s.Sort))
		for i, srt := range s.Sort {
			stage.SortFields[i] = aggregate.SortField{Path: srt.Path, Desc: srt.Desc}
		}
	}
	if len(s.Accumulators) > 0 {
		stage.Accumulators = make([]aggregate.Accumulator, len(s.Accumulators))
		for i, a := range s.Accumulators {
			stage.Accumulators[i] = aggregate.Accumulator{
				OutputField: a.OutputField,
				Op:          aggregate.AccumulatorOp(a.Op),
				Field:       a.Field,
			}
		}
	}
	return stage, nil
}

func (d *Dispatcher) registerUser(raw []byte) wire.Response {
	var args wire.RegisterUserArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	ok, err := d.DB.RegisterUser(args.Username, args.Password, args.InitialRole)
	if err != nil {
		return errFromErr(err)
	}
	return okResponse(ok)
}

func (d *Dispatcher) authenticate(raw []byte) wire.Response {
	var args wire.AuthenticateArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	token, err := d.DB.Authenticate(args.Username, args.Password)
	if err != nil {
		return errFromErr(err)
	}
	if token == nil {
		return errResponse(apperr.InvalidToken, "invalid username or password")
	}
	return okResponse(wire.AuthenticateResult{
		TokenId:   token.Id,
		ExpiresAt: token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (d *Dispatcher) validateToken(raw []byte) wire.Response {
	var args struct {
		TokenId string `json:"tokenId"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.ValidateToken(args.TokenId))
}

func (d *Dispatcher) revokeToken(raw []byte) wire.Response {
	var args struct {
		TokenId string `json:"tokenId"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	d.DB.RevokeToken(args.TokenId)
	return okResponse(true)
}

func (d *Dispatcher) changePassword(raw []byte) wire.Response {
	var args struct {
		Username    string `json:"username"`
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	ok, err := d.DB.ChangePassword(args.Username, args.OldPassword, args.NewPassword)
	if err != nil {
		return errFromErr(err)
	}
	return okResponse(ok)
}

func (d *Dispatcher) roleBinding(raw []byte, fn func(username, roleName string) error) wire.Response {
	var args struct {
		Username string `json:"username"`
		RoleName string `json:"roleName"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	if err := fn(args.Username, args.RoleName); err != nil {
		return errFromErr(err)
	}
	return okResponse(true)
}

func (d *Dispatcher) userHasRole(raw []byte) wire.Response {
	var args struct {
		Username string `json:"username"`
		RoleName string `json:"roleName"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.UserHasRole(args.Username, args.RoleName))
}

func (d *Dispatcher) userHasPermission(raw []byte) wire.Response {
	var args struct {
		Username   string `json:"username"`
		Permission string `json:"permission"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.UserHasPermission(args.Username, auth.Permission(args.Permission)))
}

func (d *Dispatcher) getUserRoles(raw []byte) wire.Response {
	var args struct {
		Username string `json:"username"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.GetUserRoles(args.Username))
}

func (d *Dispatcher) getUserPermissions(raw []byte) wire.Response {
	var args struct {
		Username string `json:"username"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	perms := d.DB.GetUserPermissions(args.Username)
	out := make([]string, 0, len(perms))
	for p, granted := range perms {
		if granted {
			out = append(out, string(p))
		}
	}
	return okResponse(out)
}

func (d *Dispatcher) createRole(raw []byte) wire.Response {
	var args struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	perms := make(map[auth.Permission]bool, len(args.Permissions))
	for _, p := range args.Permissions {
		perms[auth.Permission(p)] = true
	}
	d.DB.CreateRole(args.Name, args.Description, perms)
	return okResponse(true)
}

func (d *Dispatcher) deleteRole(raw []byte) wire.Response {
	var args struct {
		Name string `json:"name"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	d.DB.DeleteRole(args.Name)
	return okResponse(true)
}

func (d *Dispatcher) removeUser(raw []byte) wire.Response {
	var args struct {
		Username string `json:"username"`
	}
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	return okResponse(d.DB.RemoveUser(args.Username))
}

func (d *Dispatcher) authorize(raw []byte) wire.Response {
	var args wire.AuthorizeArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return errResponse(apperr.InvalidArgument, err.Error())
	}
	res := d.DB.Authorize(args.TokenId, auth.Permission(args.Permission), nil)
	return okResponse(wire.AuthorizeResultWire{IsAuthorized: res.IsAuthorized, FailureReason: res.FailureReason})
}
