package mail

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// Brand is the sender identity rendered in every email.
type Brand struct {
	Name         string
	Company      string
	LogoURL      string
	SupportEmail string
	SupportPhone string
	Address      string
	Website      string
	PrimaryColor string
}

// DefaultBrand returns the Seven Talent Hub identity. frontendURL hosts the logo.
func DefaultBrand(frontendURL string) Brand {
	return Brand{
		Name:         "Seven Talent Hub",
		Company:      "SevenOpportunity",
		LogoURL:      strings.TrimRight(frontendURL, "/") + "/seven.png",
		SupportEmail: "support@sevenopportunity.fr",
		SupportPhone: "0955909688",
		Address:      "101 Rue de Paris, 77200 Torcy",
		Website:      "http://7opportunity.com",
		PrimaryColor: "#7f4f6a",
	}
}

const layoutSource = `<!DOCTYPE html>
<html lang="fr">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width,initial-scale=1" />
    <title>{{ title }}</title>
    <style>
      body { margin: 0; padding: 0; font-family: 'Helvetica Neue', Arial, sans-serif; background: #f5f5f7; color: #222222; }
      .container { width: 100%; max-width: 680px; margin: 0 auto; padding: 20px 0; }
      .banner { background: {{ brand.PrimaryColor }}; color: #ffffff; padding: 22px; border-radius: 4px 4px 0 0; }
      .card { border: 1px solid #e6e2e6; border-top: none; padding: 28px; background: #ffffff; }
      .btn { display: inline-block; text-decoration: none; padding: 12px 20px; border-radius: 6px; background: {{ brand.PrimaryColor }}; color: #ffffff; font-weight: 700; }
      .code { font-size: 18px; font-weight: bold; text-align: center; letter-spacing: 2px; word-break: break-all; margin: 20px 0; }
      .muted { color: #666666; font-size: 13px; }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="banner">
        <strong>{{ title }} - {{ brand.Company }}</strong>
        {% if brand.LogoURL %}<img src="{{ brand.LogoURL }}" alt="{{ brand.Company }}" style="max-height: 56px" />{% endif %}
      </div>
      <div class="card">
        {{ content|safe }}
        <div class="footer">
          <p class="muted">En cas de difficulté, contactez notre support :</p>
          <p><strong>{{ brand.SupportEmail }} • {{ brand.SupportPhone }}</strong></p>
          <p>Cordialement,<br /><strong>L'équipe {{ brand.Company }}</strong></p>
          <p class="muted">{{ brand.Company }} • {{ brand.Address }} • <a href="{{ brand.Website }}">{{ brand.Website }}</a></p>
        </div>
      </div>
    </div>
  </body>
</html>`

const invitationSource = `<p>Bonjour {{ name }},</p>
<p>Un compte vous a été créé sur <strong>{{ brand.Name }}</strong>.</p>
<p>Veuillez définir votre mot de passe pour accéder à la plateforme :</p>
<p><a class="btn" href="{{ link }}">Définir mon mot de passe</a></p>
<p class="muted">Ce lien est valable {{ validity }}.</p>`

const inviteReminderSource = `<p>Bonjour {{ name }},</p>
<p>Voici votre lien pour définir un mot de passe et accéder à la plateforme.</p>
<p><a class="btn" href="{{ link }}">Définir mon mot de passe</a></p>
<p class="muted">Ce lien est valable {{ validity }}.</p>`

const passwordResetSource = `<p>Bonjour {{ name }},</p>
<p>Vous avez demandé à réinitialiser votre mot de passe.</p>
<p><a class="btn" href="{{ link }}">Réinitialiser mon mot de passe</a></p>
<p>Ou saisissez le code suivant :</p>
<p class="code">{{ code }}</p>
<p class="muted">Ce code est valide pendant {{ validity }}.</p>`

const emailChangeSource = `<p>Bonjour {{ name }},</p>
<p>Vous avez demandé à changer votre adresse email. Utilisez le code suivant pour confirmer :</p>
<p class="code">{{ code }}</p>
<p class="muted">Ce code est valide pendant {{ validity }}.</p>`

// Templates renders the credential emails inside the branded layout.
type Templates struct {
	brand          Brand
	layout         *pongo2.Template
	invitation     *pongo2.Template
	inviteReminder *pongo2.Template
	passwordReset  *pongo2.Template
	emailChange    *pongo2.Template
}

// NewTemplates compiles every template once.
func NewTemplates(brand Brand) (*Templates, error) {
	templates := &Templates{brand: brand}
	for _, entry := range []struct {
		name   string
		source string
		target **pongo2.Template
	}{
		{"layout", layoutSource, &templates.layout},
		{"invitation", invitationSource, &templates.invitation},
		{"invite_reminder", inviteReminderSource, &templates.inviteReminder},
		{"password_reset", passwordResetSource, &templates.passwordReset},
		{"email_change", emailChangeSource, &templates.emailChange},
	} {
		compiled, err := pongo2.FromString(entry.source)
		if err != nil {
			return nil, fmt.Errorf("mail: compile %s template: %w", entry.name, err)
		}
		*entry.target = compiled
	}
	return templates, nil
}

// Invitation is sent when an administrator provisions an account.
func (t *Templates) Invitation(to, name, link, validity string) (Message, error) {
	return t.render(to, "Bienvenue sur "+t.brand.Name+" - Définissez votre mot de passe", "Invitation", t.invitation, pongo2.Context{
		"name":     displayName(name),
		"link":     link,
		"validity": validity,
	})
}

// InviteReminder is sent when an administrator resends an invitation.
func (t *Templates) InviteReminder(to, name, link, validity string) (Message, error) {
	return t.render(to, "Invitation "+t.brand.Name, "Invitation", t.inviteReminder, pongo2.Context{
		"name":     displayName(name),
		"link":     link,
		"validity": validity,
	})
}

// PasswordReset carries the reset code and a link embedding it.
func (t *Templates) PasswordReset(to, name, code, link, validity string) (Message, error) {
	return t.render(to, "Réinitialisation de mot de passe - "+t.brand.Name, "Réinitialisation de mot de passe", t.passwordReset, pongo2.Context{
		"name":     displayName(name),
		"code":     code,
		"link":     link,
		"validity": validity,
	})
}

// EmailChange carries the confirmation code, sent to the new address.
func (t *Templates) EmailChange(to, name, code, validity string) (Message, error) {
	return t.render(to, "Vérification de changement d'email - "+t.brand.Name, "Changement d'email", t.emailChange, pongo2.Context{
		"name":     displayName(name),
		"code":     code,
		"validity": validity,
	})
}

func (t *Templates) render(to, subject, title string, body *pongo2.Template, data pongo2.Context) (Message, error) {
	data["brand"] = t.brand
	content, err := body.Execute(data)
	if err != nil {
		return Message{}, fmt.Errorf("mail: render %q: %w", title, err)
	}
	html, err := t.layout.Execute(pongo2.Context{
		"title":   title,
		"brand":   t.brand,
		"content": content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("mail: render layout: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: html}, nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Utilisateur"
	}
	return name
}
