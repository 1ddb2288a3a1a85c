package livestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/auth"
	"github.com/harentsoaR/gestorpro/internal/models"
	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/services"
	"github.com/harentsoaR/gestorpro/internal/store"
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

var failureMessages = map[permission.Resource][3]string{
	permission.Appointments: {"Erro ao adicionar agendamento.", "Erro ao atualizar agendamento.", "Erro ao excluir agendamento."},
	permission.Pendencies:   {"Erro ao adicionar pendência.", "Erro ao atualizar pendência.", "Erro ao excluir pendência."},
	permission.Financials:   {"Erro ao adicionar transação.", "Erro ao atualizar transação.", "Erro ao excluir transação."},
	permission.Accounts:     {"Erro ao adicionar conta.", "Erro ao atualizar conta.", "Erro ao excluir conta."},
	permission.ThirdParties: {"Erro ao adicionar cliente/fornecedor.", "Erro ao atualizar cliente/fornecedor.", "Erro ao excluir cliente/fornecedor."},
	permission.Users:        {"Erro ao adicionar usuário.", "Erro ao atualizar usuário.", "Erro ao excluir usuário."},
}

func failureMessage(r permission.Resource, op string) string {
	msgs := failureMessages[r]
	switch op {
	case opCreate:
		return msgs[0]
	case opUpdate:
		return msgs[1]
	default:
		return msgs[2]
	}
}

const (
	msgBatchCreate     = "Erro ao adicionar agendamentos em lote."
	msgBatchDelete     = "Erro ao excluir agendamentos."
	msgMessage         = "Erro ao enviar mensagem."
	msgPhoto           = "Erro ao atualizar foto."
	msgSettings        = "Falha ao salvar as configurações."
	msgPushToken       = "Ocorreu um erro ao habilitar as notificações."
	msgNotSignedIn     = "Usuário não autenticado corretamente."
	msgForbidden       = "Você não tem permissão para realizar esta ação."
	msgBadCredentials  = "E-mail ou senha incorretos."
	msgNotConfigured   = "Erro de configuração. Verifique se o login por e-mail e senha está ativo."
	msgUnknownAuth     = "Ocorreu um erro desconhecido."
	msgNoSuchUser      = "Nenhum usuário encontrado com este e-mail."
	msgResetFailed     = "Ocorreu um erro ao enviar o e-mail de redefinição."
	msgResetInvalid    = "Link de redefinição inválido ou expirado."
	msgWeakPassword    = "A senha deve ter pelo menos 6 caracteres."
	msgEmailInUse      = "Este e-mail já está em uso por outra conta."
	msgCreateUser      = "Ocorreu um erro ao criar o usuário."
	msgWrongPassword   = "Senha atual incorreta."
	msgPasswordChange  = "Erro ao alterar a senha."
	msgUserCreatedTmpl = "Usuário %s criado."
)

// identifier fields are addressing, never content
var idFields = []string{"id", "stringId", "_id"}

func stripIDs(fields bson.M) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, f := range idFields {
		delete(out, f)
	}
	return out
}

// write runs one store call. A rejection is logged, raised as a
// notification and returned as a WriteError. It is never retried.
func (s *Store) write(ctx context.Context, resource, op, message string, fn func(context.Context) error) error {
	start := time.Now()
	s.metrics.Writes.WithLabelValues(resource, op).Inc()
	err := fn(ctx)
	s.metrics.WriteDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	s.metrics.WriteFailures.WithLabelValues(resource, op).Inc()
	s.log.Error("write rejected", "resource", resource, "op", op, "error", err)
	s.raise(message)
	return &Error{Kind: WriteError, Op: op, Resource: resource, Message: message, Err: err}
}

// authFailure logs and raises an AuthError.
func (s *Store) authFailure(op, message string, err error) error {
	s.metrics.AuthFailures.WithLabelValues(op).Inc()
	s.log.Warn("auth operation failed", "op", op, "error", err)
	s.raise(message)
	return &Error{Kind: AuthError, Op: op, Message: message, Err: err}
}

// authorize checks the live session against allowed. A denial is logged
// and raised like a rejected write.
func (s *Store) authorize(op, resource string, allowed func(permission.Subject) bool) (*Session, error) {
	sess := s.Session()
	if sess == nil {
		return nil, s.authFailure(op, msgNotSignedIn, ErrNotSignedIn)
	}
	if !allowed(sess.Subject()) {
		s.metrics.WritesDenied.WithLabelValues(resource, op).Inc()
		s.log.Warn("write denied", "resource", resource, "op", op, "uid", sess.User.ID)
		s.raise(msgForbidden)
		return nil, &Error{Kind: Forbidden, Op: op, Resource: resource, Message: msgForbidden, Err: ErrForbidden}
	}
	return sess, nil
}

func canWrite(r permission.Resource) func(permission.Subject) bool {
	return func(sub permission.Subject) bool { return permission.CanWrite(sub, r) }
}

func fieldNames(fields bson.M) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	return names
}

func (s *Store) Create(ctx context.Context, r permission.Resource, fields bson.M) (string, error) {
	if _, err := s.authorize(opCreate, r.String(), canWrite(r)); err != nil {
		return "", err
	}
	var id string
	err := s.write(ctx, r.String(), opCreate, failureMessage(r, opCreate), func(ctx context.Context) error {
		var err error
		id, err = s.docs.Add(ctx, r.Collection(), stripIDs(fields))
		return err
	})
	return id, err
}

func (s *Store) Update(ctx context.Context, r permission.Resource, id string, fields bson.M) error {
	if id == "" {
		return &Error{Kind: WriteError, Op: opUpdate, Resource: r.String(), Err: ErrMissingID}
	}
	fields = stripIDs(fields)
	allowed := canWrite(r)
	if r == permission.Users {
		allowed = func(sub permission.Subject) bool { return permission.CanEditProfile(sub, id, fieldNames(fields)) }
	}
	if _, err := s.authorize(opUpdate, r.String(), allowed); err != nil {
		return err
	}
	return s.write(ctx, r.String(), opUpdate, failureMessage(r, opUpdate), func(ctx context.Context) error {
		return s.docs.Update(ctx, r.Collection(), id, fields)
	})
}

func (s *Store) Delete(ctx context.Context, r permission.Resource, id string) error {
	if id == "" {
		return &Error{Kind: WriteError, Op: opDelete, Resource: r.String(), Err: ErrMissingID}
	}
	if _, err := s.authorize(opDelete, r.String(), canWrite(r)); err != nil {
		return err
	}
	return s.write(ctx, r.String(), opDelete, failureMessage(r, opDelete), func(ctx context.Context) error {
		return s.docs.Delete(ctx, r.Collection(), id)
	})
}

// BatchCreateAppointments adds every appointment or none of them.
func (s *Store) BatchCreateAppointments(ctx context.Context, appointments []bson.M) ([]string, error) {
	coll := permission.Appointments.Collection()
	if _, err := s.authorize("batch_create", coll, canWrite(permission.Appointments)); err != nil {
		return nil, err
	}
	ids := make([]string, len(appointments))
	ops := make([]store.WriteOp, len(appointments))
	for i, a := range appointments {
		ids[i] = uuid.NewString()
		ops[i] = store.WriteOp{Kind: store.OpCreate, Collection: coll, ID: ids[i], Fields: stripIDs(a)}
	}
	err := s.write(ctx, coll, "batch_create", msgBatchCreate, func(ctx context.Context) error {
		return s.docs.Batch(ctx, ops)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchDeleteAppointments deletes every id or none of them.
func (s *Store) BatchDeleteAppointments(ctx context.Context, ids []string) error {
	coll := permission.Appointments.Collection()
	if _, err := s.authorize("batch_delete", coll, canWrite(permission.Appointments)); err != nil {
		return err
	}
	ops := make([]store.WriteOp, len(ids))
	for i, id := range ids {
		ops[i] = store.WriteOp{Kind: store.OpDelete, Collection: coll, ID: id}
	}
	return s.write(ctx, coll, "batch_delete", msgBatchDelete, func(ctx context.Context) error {
		return s.docs.Batch(ctx, ops)
	})
}

// AddMessageToAppointment appends to the message log without reading it
// first, then pushes the message to the appointment's inspector.
func (s *Store) AddMessageToAppointment(ctx context.Context, appointmentID, text string) error {
	sess, err := s.authorize("add_message", permission.Appointments.Collection(), func(sub permission.Subject) bool {
		return permission.CanRead(sub, permission.Appointments)
	})
	if err != nil {
		return err
	}
	msg := models.Message{
		AuthorID:   sess.User.ID,
		AuthorName: sess.User.Name,
		Text:       text,
		Timestamp:  time.Now().UnixMilli(),
	}
	coll := permission.Appointments.Collection()
	err = s.write(ctx, coll, "add_message", msgMessage, func(ctx context.Context) error {
		entry, err := models.Encode(msg)
		if err != nil {
			return err
		}
		return s.docs.ArrayUnion(ctx, coll, appointmentID, models.FieldMessages, entry)
	})
	if err != nil {
		return err
	}
	s.pushToInspector(ctx, appointmentID, msg)
	return nil
}

func (s *Store) pushToInspector(ctx context.Context, appointmentID string, msg models.Message) {
	if s.push == nil {
		return
	}
	appt, err := s.docs.Get(ctx, permission.Appointments.Collection(), appointmentID)
	if err != nil {
		s.log.Warn("push skipped, appointment unreadable", "appointment", appointmentID, "error", err)
		return
	}
	inspectorID := appt.String(models.FieldInspectorID)
	if inspectorID == "" || inspectorID == msg.AuthorID {
		return
	}
	profile, err := s.docs.Get(ctx, UsersCollection, inspectorID)
	if err != nil {
		s.log.Warn("push skipped, inspector unreadable", "inspector", inspectorID, "error", err)
		return
	}
	token := profile.String("fcmToken")
	if token == "" {
		return
	}
	s.push.SendAsync(token, services.PushMessage{
		Title: "Nova mensagem de " + msg.AuthorName,
		Body:  msg.Text,
		URL:   s.opts.PublicURL + "/?page=" + PageAppointments,
	})
}

// AddUser creates the identity with the default password and a profile
// that must change it on first sign-in. The current identity is kept.
func (s *Store) AddUser(ctx context.Context, user models.User) (string, error) {
	if _, err := s.authorize("add_user", UsersCollection, canWrite(permission.Users)); err != nil {
		return "", err
	}
	uid, err := s.auth.CreateIdentity(ctx, user.Email, s.opts.DefaultUserPassword, user.Name)
	if errors.Is(err, auth.ErrEmailInUse) {
		return "", s.authFailure("add_user", msgEmailInUse, err)
	}
	if err != nil {
		return "", s.authFailure("add_user", msgCreateUser, err)
	}

	user.ID = uid
	user.ForcePasswordChange = true
	if user.Roles == nil {
		user.Roles = []string{}
	}
	user.Permissions = permission.ParsePermissions(user.Permissions).Strings()
	err = s.write(ctx, UsersCollection, opCreate, msgCreateUser, func(ctx context.Context) error {
		fields, err := user.Fields()
		if err != nil {
			return err
		}
		return s.docs.Set(ctx, UsersCollection, uid, fields, false)
	})
	if err != nil {
		return "", err
	}
	s.raise(fmt.Sprintf(msgUserCreatedTmpl, user.Name))
	return uid, nil
}

func (s *Store) UpdateUserPhoto(ctx context.Context, uid, photoURL string) error {
	_, err := s.authorize(opUpdate, UsersCollection, func(sub permission.Subject) bool {
		return permission.CanEditProfile(sub, uid, []string{"photoURL"})
	})
	if err != nil {
		return err
	}
	return s.write(ctx, UsersCollection, opUpdate, msgPhoto, func(ctx context.Context) error {
		return s.docs.Update(ctx, UsersCollection, uid, bson.M{"photoURL": photoURL})
	})
}

// UpdatePassword re-authenticates with the old password before changing it
// and clears the forced change flag.
func (s *Store) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	sess := s.Session()
	if sess == nil {
		return s.authFailure("update_password", msgNotSignedIn, ErrNotSignedIn)
	}
	if err := s.auth.Reauthenticate(ctx, oldPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return s.authFailure("update_password", msgWrongPassword, err)
		}
		return s.authFailure("update_password", msgPasswordChange, err)
	}
	if err := s.auth.ChangePassword(ctx, newPassword); err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return s.authFailure("update_password", msgWeakPassword, err)
		}
		return s.authFailure("update_password", msgPasswordChange, err)
	}
	if !sess.User.ForcePasswordChange {
		return nil
	}
	return s.write(ctx, UsersCollection, opUpdate, msgPasswordChange, func(ctx context.Context) error {
		return s.docs.Update(ctx, UsersCollection, sess.User.ID, bson.M{"forcePasswordChange": false})
	})
}

// Login signs in and returns the session token. The session itself is set
// up asynchronously by Run.
func (s *Store) Login(ctx context.Context, email, password string) (string, *auth.Identity, error) {
	token, id, err := s.auth.SignIn(ctx, email, password)
	switch {
	case err == nil:
		return token, id, nil
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "", nil, s.authFailure("login", msgBadCredentials, err)
	case errors.Is(err, auth.ErrNotConfigured):
		return "", nil, s.authFailure("login", msgNotConfigured, err)
	default:
		return "", nil, s.authFailure("login", msgUnknownAuth, err)
	}
}

func (s *Store) Logout(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return s.authFailure("logout", msgUnknownAuth, err)
	}
	return nil
}

func (s *Store) SendPasswordReset(ctx context.Context, email string) error {
	err := s.auth.SendPasswordReset(ctx, email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrUserNotFound):
		return s.authFailure("password_reset", msgNoSuchUser, err)
	default:
		return s.authFailure("password_reset", msgResetFailed, err)
	}
}

func (s *Store) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	err := s.auth.ConfirmPasswordReset(ctx, token, newPassword)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrInvalidResetToken):
		return s.authFailure("confirm_reset", msgResetInvalid, err)
	case errors.Is(err, auth.ErrWeakPassword):
		return s.authFailure("confirm_reset", msgWeakPassword, err)
	default:
		return s.authFailure("confirm_reset", msgPasswordChange, err)
	}
}

// UpdateSettings merges fields into the settings singleton.
func (s *Store) UpdateSettings(ctx context.Context, fields bson.M) error {
	if _, err := s.authorize(opUpdate, models.SettingsCollection, permission.CanEditSettings); err != nil {
		return err
	}
	return s.write(ctx, models.SettingsCollection, opUpdate, msgSettings, func(ctx context.Context) error {
		return s.docs.Set(ctx, models.SettingsCollection, models.SettingsID, stripIDs(fields), true)
	})
}

// UpdateLogo sets or, with nil, clears the logo.
func (s *Store) UpdateLogo(ctx context.Context, logoURL *string) error {
	var v any
	if logoURL != nil {
		v = *logoURL
	}
	return s.UpdateSettings(ctx, bson.M{"logoUrl": v})
}

// RegisterPushToken saves the device token on the current user's profile.
func (s *Store) RegisterPushToken(ctx context.Context, token string) error {
	sess := s.Session()
	if sess == nil {
		return s.authFailure("register_push", msgNotSignedIn, ErrNotSignedIn)
	}
	return s.write(ctx, UsersCollection, opUpdate, msgPushToken, func(ctx context.Context) error {
		return s.docs.Update(ctx, UsersCollection, sess.User.ID, bson.M{"fcmToken": token})
	})
}

// BootstrapMaster makes sure a master account exists. An email already in
// use is left untouched.
func (s *Store) BootstrapMaster(ctx context.Context, email, password, name string) error {
	if email == "" || password == "" {
		return nil
	}
	uid, err := s.auth.CreateIdentity(ctx, email, password, name)
	if errors.Is(err, auth.ErrEmailInUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create master identity: %w", err)
	}
	user := models.User{
		Name:        name,
		Email:       email,
		Roles:       []string{permission.RoleMaster.String()},
		Permissions: permission.FullPermissions().Strings(),
	}
	fields, err := user.Fields()
	if err != nil {
		return err
	}
	if err := s.docs.Set(ctx, UsersCollection, uid, fields, false); err != nil {
		return fmt.Errorf("create master profile: %w", err)
	}
	s.log.Info("master account created", "uid", uid, "email", email)
	return nil
}
