package utils

// login paths
const ADMIN_PATH = "admin"
const USER_PATH = "user"

// error messages
const GENERIC_SERVER_ERROR = "Something went wrong. Please try again!"
const GENERIC_LOGIN_ERROR = "We had some trouble logging you in. Please try again!"
const GENERIC_SIGNUP_ERROR = "We had some trouble signing you up. Please try again!"
const INVALID_EMAIL_ERROR = "Invalid email"
const INVALID_PASSWORD_ERROR = "Invalid password"
const INVALID_OTP_ERROR = "Invalid or expired OTP"
const ACCOUNT_LOCKED_ERROR = "Account is locked due to too many failed login attempts."
const ACCOUNT_PENDING_ERROR = "Please verify your email before logging in."
const ROLE_NOT_ALLOWED_ERROR = "You are not allowed to sign in here."
const ACCOUNT_NOT_FOUND_ERROR = "Account not found"
const EMAIL_TAKEN_SIGNUP_ERROR = "Someone might have signed up with that email before. Please try logging in!"
const REGISTRATION_CANCELLED_ERROR = "Too many invalid OTP attempts. Please register again."
const REGISTRATION_NOT_FOUND_ERROR = "Registration not found. Please register again."
const UNAUTHORIZED_ERROR = "Not authorized"
const FORBIDDEN_ERROR = "You do not have access to this resource."
const RATE_LIMIT_ERROR = "Too many requests. Please slow down and try again!"
const JWT_TOKEN_PARSING_ERROR = "Invalid session token"
const JWT_TOKEN_EXPIRED_ERROR = "Session expired. Please log in again."

// response messages
const OTP_SENT_MESSAGE = "OTP sent to your email"
const LOGGED_OUT_MESSAGE = "Logged out successfully"

// login attempt reasons
const REASON_UNKNOWN_EMAIL = "invalid email"
const REASON_ACCOUNT_LOCKED = "account locked"
const REASON_ACCOUNT_PENDING = "account pending verification"
const REASON_OTP_EXHAUSTED = "invalid otp, code revoked after too many attempts"
const REASON_REGISTRATION_OTP_INVALID = "invalid registration otp"
const REASON_REGISTRATION_CANCELLED = "invalid registration otp, registration cancelled"
const REASON_ROLE_NOT_ALLOWED = "account role not allowed on this path"
const REASON_OTP_SENT = "password verified, otp sent"
const REASON_OTP_INVALID = "invalid or expired otp"
const REASON_OTP_VERIFIED = "otp verified"
const REASON_LOGOUT = "logout"

// verification codes
const OTP_DIGITS = 6
const OTP_MAX_ATTEMPTS = 3
const OTP_SECRET_LENGTH = 16

const PASSWORD_HASH_COST = 10
const MIN_PASSWORD_LENGTH = 8
const MIN_PASSWORD_SCORE = 2
